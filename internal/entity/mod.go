package entity

// Mod is a single jar found in the extracted repository.
type Mod struct {
	Name         string // Display name, currently equal to FileName
	FileName     string // Base name of the jar, unique key within the repository
	RelativePath string // Path relative to the repository root
	SourcePath   string // Absolute path inside the repository cache
}

// ModStatus reports whether a repository mod is present in the target folder.
type ModStatus struct {
	Name      string `json:"name"`
	FileName  string `json:"fileName"`
	Installed bool   `json:"installed"`
}

type SyncOptions struct {
	Force    bool
	Listener ProgressListener
}

// RepoNotes is the rendered notes page shipped with the repository.
type RepoNotes struct {
	Title   string `json:"title,omitempty"`
	Version string `json:"version,omitempty"`
	Author  string `json:"author,omitempty"`
	HTML    string `json:"html"`
}
