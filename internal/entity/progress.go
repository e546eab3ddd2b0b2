package entity

type ModState string

const (
	ModStateInstalling ModState = "installing"
	ModStateDone       ModState = "done"
	ModStateSkipped    ModState = "skipped"
	ModStateError      ModState = "error"
)

type RepoState string

const (
	RepoStateDownload RepoState = "download"
	RepoStateExtract  RepoState = "extract"
	RepoStateDone     RepoState = "done"

	RepoScope = "repo"
)

type ModProgress struct {
	FileName string   `json:"fileName"`
	Name     string   `json:"name"`
	State    ModState `json:"state"`
	Percent  float64  `json:"percent"`
	Error    string   `json:"error,omitempty"`
}

type RepoProgress struct {
	Scope   string    `json:"scope"`
	State   RepoState `json:"state"`
	Percent float64   `json:"percent"`
}

func NewRepoProgress(state RepoState, percent float64) RepoProgress {
	return RepoProgress{Scope: RepoScope, State: state, Percent: percent}
}

// ProgressListener receives progress events. Calls are synchronous and must not block.
type ProgressListener interface {
	ModProgress(p ModProgress)
	RepoProgress(p RepoProgress)
}

// ListenerFuncs adapts plain functions to ProgressListener. Nil funcs are skipped.
type ListenerFuncs struct {
	OnMod  func(p ModProgress)
	OnRepo func(p RepoProgress)
}

func (l ListenerFuncs) ModProgress(p ModProgress) {
	if l.OnMod != nil {
		l.OnMod(p)
	}
}

func (l ListenerFuncs) RepoProgress(p RepoProgress) {
	if l.OnRepo != nil {
		l.OnRepo(p)
	}
}

// Listeners fans events out to every non-nil listener.
type Listeners []ProgressListener

func (ls Listeners) ModProgress(p ModProgress) {
	for _, l := range ls {
		if l != nil {
			l.ModProgress(p)
		}
	}
}

func (ls Listeners) RepoProgress(p RepoProgress) {
	for _, l := range ls {
		if l != nil {
			l.RepoProgress(p)
		}
	}
}

// OrNop returns l or a listener that drops everything.
func OrNop(l ProgressListener) ProgressListener {
	if l == nil {
		return ListenerFuncs{}
	}

	return l
}
