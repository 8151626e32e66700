// Package view renders full HTML pages from the layout and one page
// template.
package view

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strings"

	"mordhub/internal/core/apperr"
	"mordhub/internal/domain"
)

const layout = "layout.html"

// Partials are parsed into every page.
var partials = []string{"card.html"}

// Page is the data every page sees. Data carries the page's own fields,
// which are reachable at the top level of the template.
type Page struct {
	Title  string
	Active string
	Viewer *domain.User
	Data   map[string]any
}

type Renderer struct {
	pages map[string]*template.Template
}

// New parses every page under fsys together with the layout. Page names are
// their slash separated paths, e.g. "loadouts/list.html".
func New(fsys fs.FS) (*Renderer, error) {
	names, err := pageNames(fsys)
	if err != nil {
		return nil, err
	}
	r := &Renderer{pages: make(map[string]*template.Template, len(names))}
	for _, name := range names {
		files := append([]string{layout}, partials...)
		t, err := template.New(name).ParseFS(fsys, append(files, name)...)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

func pageNames(fsys fs.FS) ([]string, error) {
	var names []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".html") || p == layout {
			return nil
		}
		for _, s := range partials {
			if p == s {
				return nil
			}
		}
		names = append(names, p)
		return nil
	})
	return names, err
}

// Render executes page into w. Nothing is written when execution fails.
func (r *Renderer) Render(w io.Writer, name string, p Page) error {
	t, ok := r.pages[name]
	if !ok {
		return apperr.Template(fmt.Errorf("no page named %q", name))
	}
	data := make(map[string]any, len(p.Data)+3)
	for k, v := range p.Data {
		data[k] = v
	}
	data["Title"] = p.Title
	data["Active"] = p.Active
	data["Viewer"] = p.Viewer

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return apperr.Template(err)
	}
	_, err := buf.WriteTo(w)
	return err
}
