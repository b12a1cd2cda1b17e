// Package web serves the demo application the sign-in flow is checked against.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"sync"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer manages HTML template rendering with caching.
type Renderer struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

// NewRenderer parses base.html together with every other template in fsys.
func NewRenderer(fsys fs.FS) (*Renderer, error) {
	r := &Renderer{
		templates: make(map[string]*template.Template),
	}

	if err := r.parseTemplates(fsys); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	return r, nil
}

// DefaultRenderer parses the embedded templates.
func DefaultRenderer() (*Renderer, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	return NewRenderer(sub)
}

// Render executes the named template with the given data and writes the result to w.
func (r *Renderer) Render(w http.ResponseWriter, status int, templateName string, data any) error {
	r.mu.RLock()
	tmpl, ok := r.templates[templateName]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("template %q not found", templateName)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		return fmt.Errorf("failed to execute template %q: %w", templateName, err)
	}

	return nil
}

// RenderError renders an error page with the given HTTP status code and message.
func (r *Renderer) RenderError(w http.ResponseWriter, code int, message string) {
	data := PageData{Title: http.StatusText(code), Error: message}
	if err := r.Render(w, code, "error.html", data); err != nil {
		http.Error(w, fmt.Sprintf("Error %d: %s", code, message), code)
	}
}

func (r *Renderer) parseTemplates(fsys fs.FS) error {
	baseContent, err := fs.ReadFile(fsys, "base.html")
	if err != nil {
		return fmt.Errorf("failed to read base template: %w", err)
	}

	names, err := fs.Glob(fsys, "*.html")
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "base.html" {
			continue
		}
		pageContent, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New("base").Parse(string(baseContent))
		if err != nil {
			return fmt.Errorf("failed to parse base template for %s: %w", name, err)
		}
		if tmpl, err = tmpl.Parse(string(pageContent)); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.mu.Lock()
		r.templates[path.Base(name)] = tmpl
		r.mu.Unlock()
	}

	if len(r.templates) == 0 {
		return fmt.Errorf("no page templates found")
	}
	return nil
}
