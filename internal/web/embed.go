// Package web holds the server-rendered pages the role gate redirects to.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
)

//go:embed templates
var TemplatesFS embed.FS

// Pages maps a page file name to its template. Each page gets its own set
// so the blocks it defines never leak into another page.
type Pages map[string]*template.Template

// LoadTemplates parses every page in templates/pages together with the base
// layout.
func LoadTemplates() (Pages, error) {
	baseContent, err := fs.ReadFile(TemplatesFS, "templates/layouts/base.html")
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(TemplatesFS, "templates/pages")
	if err != nil {
		return nil, err
	}

	pages := make(Pages, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		pageContent, err := fs.ReadFile(TemplatesFS, "templates/pages/"+entry.Name())
		if err != nil {
			return nil, err
		}

		// Base first, then the page so its blocks override the layout's.
		tmpl, err := template.New(entry.Name()).Parse(string(baseContent))
		if err != nil {
			return nil, err
		}
		if _, err := tmpl.Parse(string(pageContent)); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}
		pages[entry.Name()] = tmpl
	}

	return pages, nil
}

// Render executes the named page.
func (p Pages) Render(w io.Writer, name string, data interface{}) error {
	tmpl, ok := p[name]
	if !ok {
		return fmt.Errorf("page %q not found", name)
	}
	return tmpl.Execute(w, data)
}
