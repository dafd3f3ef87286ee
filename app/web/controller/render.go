package controller

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/zero-network/txexporter/pkg/chart"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/layout.html"

var funcs = template.FuncMap{
	"num":    chart.Thousands,
	"amount": func(v float64) string { return fmt.Sprintf("%.4f", v) },
	"opt": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.4f", *v)
	},
	"pct": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.2f%%", *v)
	},
}

// parseTemplates pairs every page with the shared layout.
func parseTemplates() (map[string]*template.Template, error) {
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	pages := map[string]*template.Template{}
	for _, name := range names {
		if name == layoutFile {
			continue
		}
		t, err := template.New(path.Base(name)).Funcs(funcs).ParseFS(templateFS, layoutFile, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		pages[path.Base(name)] = t
	}
	return pages, nil
}

// pageData is handed to every template.
type pageData struct {
	Title   string
	Active  string
	Flashes []Flash
	Data    any
}

// render executes page into a buffer first so a template error never leaves a half-written response.
// Messages in now are shown on this page alongside pending flashes.
func (c *Controller) render(w http.ResponseWriter, r *http.Request, page, title, active string, data any, now ...Flash) {
	t, ok := c.pages[page]
	if !ok {
		c.App.Logger.Error("Unknown template", zap.String("page", page))
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	pd := pageData{Title: title, Active: active, Flashes: append(c.popFlashes(w, r), now...), Data: data}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", pd); err != nil {
		c.App.Logger.Error("Failed to render template", zap.String("page", page), zap.Error(err))
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
