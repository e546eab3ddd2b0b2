package mdadapter

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/jgivc/modsync/internal/entity"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/frontmatter"
)

const defaultTemplates = `{{ define "MOD" -}}
<span class="mod {{ if .Installed }}mod-installed{{ else }}mod-missing{{ end }}" data-file="{{ .FileName }}">{{ .Description }}</span>
{{- end }}

{{ define "MODS" -}}
<ul class="mods">
{{ range . }}<li class="mod {{ if .Installed }}mod-installed{{ else }}mod-missing{{ end }}" data-file="{{ .FileName }}">{{ .Name }}</li>
{{ end }}</ul>
{{- end }}`

type noteMeta struct {
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
	Author  string `yaml:"author"`
}

type notesRenderer struct {
	md   goldmark.Markdown
	tmpl *template.Template
	log  *slog.Logger
}

// NewNotesRenderer builds a renderer. tmplSource may redefine the MOD and MODS
// templates; empty means the built-in ones.
func NewNotesRenderer(tmplSource string, log *slog.Logger) (*notesRenderer, error) {
	if tmplSource == "" {
		tmplSource = defaultTemplates
	}

	tmpl, err := template.New("").Parse(tmplSource)
	if err != nil {
		return nil, fmt.Errorf("cannot parse notes templates: %w", err)
	}

	for _, name := range []string{templateNameMod, templateNameMods} {
		if tmpl.Lookup(name) == nil {
			return nil, fmt.Errorf("template with name %s must be defined", name)
		}
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			&frontmatter.Extender{},
			NewModsExtension(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &notesRenderer{
		md:   md,
		tmpl: tmpl,
		log:  log.With(slog.String("item", "NotesRenderer")),
	}, nil
}

func (r *notesRenderer) Render(source []byte, statuses []*entity.ModStatus) (*entity.RepoNotes, error) {
	pc := parser.NewContext()
	pc.Set(resolverKey, newStatusResolver(statuses, r.tmpl))

	var buf bytes.Buffer
	if err := r.md.Convert(source, &buf, parser.WithContext(pc)); err != nil {
		return nil, fmt.Errorf("cannot convert markdown: %w", err)
	}

	notes := &entity.RepoNotes{HTML: buf.String()}

	if fm := frontmatter.Get(pc); fm != nil {
		var meta noteMeta
		if err := fm.Decode(&meta); err != nil {
			r.log.Warn("Cannot decode notes frontmatter", slog.Any("error", err))
		} else {
			notes.Title = meta.Title
			notes.Version = meta.Version
			notes.Author = meta.Author
		}
	}

	return notes, nil
}
