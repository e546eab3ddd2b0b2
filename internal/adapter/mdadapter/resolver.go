package mdadapter

import (
	"bytes"
	"fmt"
	"html"
	"html/template"

	"github.com/jgivc/modsync/internal/entity"
)

const (
	buildIndexThreshold = 5

	templateNameMod  = "MOD"
	templateNameMods = "MODS"
)

type modView struct {
	Name        string
	FileName    string
	Description string
	Installed   bool
}

type statusResolver struct {
	statuses []*entity.ModStatus
	index    map[string]int
	tmpl     *template.Template
}

func newStatusResolver(statuses []*entity.ModStatus, tmpl *template.Template) *statusResolver {
	return &statusResolver{statuses: statuses, tmpl: tmpl}
}

func (r *statusResolver) GetStatus(fileName string) (*entity.ModStatus, bool) {
	if r.index == nil && len(r.statuses) > buildIndexThreshold {
		r.buildIndex()
	}

	if r.index != nil {
		idx, ok := r.index[fileName]
		if !ok {
			return nil, false
		}

		return r.statuses[idx], true
	}

	for _, st := range r.statuses {
		if st.FileName == fileName {
			return st, true
		}
	}

	return nil, false
}

func (r *statusResolver) buildIndex() {
	index := make(map[string]int, len(r.statuses))
	for i, st := range r.statuses {
		index[st.FileName] = i
	}

	r.index = index
}

func (r *statusResolver) render(node *ModNode) ([]byte, error) {
	if node.All {
		views := make([]modView, 0, len(r.statuses))
		for _, st := range r.statuses {
			views = append(views, newModView(st, ""))
		}

		return r.execute(templateNameMods, views)
	}

	st, ok := r.GetStatus(node.FileName)
	if !ok {
		return []byte(html.EscapeString(node.label())), nil
	}

	return r.execute(templateNameMod, newModView(st, node.Description))
}

func (r *statusResolver) execute(name string, data any) ([]byte, error) {
	tmpl := r.tmpl.Lookup(name)
	if tmpl == nil {
		return nil, fmt.Errorf("template with name %s must be defined", name)
	}

	buf := &bytes.Buffer{}
	if err := tmpl.Execute(buf, data); err != nil {
		return nil, fmt.Errorf("cannot execute template %s: %w", name, err)
	}

	return buf.Bytes(), nil
}

func newModView(st *entity.ModStatus, description string) modView {
	if description == "" {
		description = st.Name
	}

	return modView{
		Name:        st.Name,
		FileName:    st.FileName,
		Description: description,
		Installed:   st.Installed,
	}
}
