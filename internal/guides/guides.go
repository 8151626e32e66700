// Package guides serves the static guide pages written in markdown.
package guides

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"mordhub/internal/core/apperr"
	"mordhub/internal/core/cache"
)

//go:embed content/*.md
var content embed.FS

type Guide struct {
	Slug  string
	Title string
}

type Library struct {
	guides map[string]Guide
	source map[string][]byte
	order  []Guide
	md     goldmark.Markdown
	cache  *cache.Cache
	ttl    time.Duration
}

// Embedded returns the guides compiled into the binary.
func Embedded(c *cache.Cache) (*Library, error) {
	sub, err := fs.Sub(content, "content")
	if err != nil {
		return nil, err
	}
	return Load(sub, c)
}

// Load reads every *.md file at the root of fsys. The file name without
// extension is the slug and the first level-one heading is the title.
func Load(fsys fs.FS, c *cache.Cache) (*Library, error) {
	files, err := fs.Glob(fsys, "*.md")
	if err != nil {
		return nil, err
	}
	lib := &Library{
		guides: map[string]Guide{},
		source: map[string][]byte{},
		md: goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough, extension.Table),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		cache: c,
		ttl:   time.Hour,
	}
	for _, name := range files {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read guide %s: %w", name, err)
		}
		slug := strings.TrimSuffix(path.Base(name), ".md")
		g := Guide{Slug: slug, Title: title(b, slug)}
		lib.guides[slug] = g
		lib.source[slug] = b
		lib.order = append(lib.order, g)
	}
	sort.Slice(lib.order, func(i, j int) bool { return lib.order[i].Title < lib.order[j].Title })
	return lib, nil
}

func title(src []byte, fallback string) string {
	for _, line := range strings.Split(string(src), "\n") {
		if t, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(t)
		}
	}
	return fallback
}

func (l *Library) List() []Guide { return l.order }

// Render returns the guide and its HTML body. Unknown slugs are NotFound.
func (l *Library) Render(ctx context.Context, slug string) (Guide, template.HTML, error) {
	g, ok := l.guides[slug]
	if !ok {
		return Guide{}, "", apperr.NotFound("no guide named " + slug)
	}
	b, err := l.cache.GetOrLoad(ctx, "guide:"+slug, l.ttl, func(context.Context) ([]byte, error) {
		var buf bytes.Buffer
		if err := l.md.Convert(l.source[slug], &buf); err != nil {
			return nil, apperr.Template(err)
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		return Guide{}, "", err
	}
	// goldmark escapes raw HTML by default
	return g, template.HTML(b), nil
}
