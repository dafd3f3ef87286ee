package controller

import (
	"fmt"
	"html/template"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"
	"github.com/zero-network/txexporter/app/web/types"
	"github.com/zero-network/txexporter/pkg/observability"
	"github.com/zero-network/txexporter/pkg/utils"
	"go.uber.org/zap"
)

type Controller struct {
	App         *types.App
	FlashSecret []byte
	pages       map[string]*template.Template
}

// NewController returns a new controller with its templates parsed.
func NewController(app *types.App) (*Controller, error) {
	pages, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Controller{
		App:         app,
		FlashSecret: []byte(utils.Env("SESSION_SECRET", "change-me-please")),
		pages:       pages,
	}, nil
}

// WithRecover turns handler panics into a 500 instead of a dropped connection.
func WithRecover(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Panic in HTTP handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("stack", string(debug.Stack())))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	// Pages
	r.HandleFunc("/", c.HandleIndex).Methods(http.MethodGet)
	r.HandleFunc("/export", c.HandleExportForm).Methods(http.MethodGet)
	r.HandleFunc("/export", c.HandleExportSubmit).Methods(http.MethodPost)
	r.HandleFunc("/presets", c.HandlePresets).Methods(http.MethodGet)
	r.HandleFunc("/presets", c.HandlePresetsAction).Methods(http.MethodPost)
	r.HandleFunc("/run_preset/{name}", c.HandleRunPreset).Methods(http.MethodGet)
	r.HandleFunc("/view/{path:.+}", c.HandleView).Methods(http.MethodGet)
	r.HandleFunc("/download/{path:.+}", c.HandleDownload).Methods(http.MethodGet)
	r.HandleFunc("/export_status/{job_id}", c.HandleExportStatusPage).Methods(http.MethodGet)
	r.HandleFunc("/yield", c.HandleYieldForm).Methods(http.MethodGet)
	r.HandleFunc("/yield", c.HandleYieldSubmit).Methods(http.MethodPost)
	r.HandleFunc("/yield_status/{job_id}", c.HandleYieldStatusPage).Methods(http.MethodGet)
	r.HandleFunc("/view_yield/{path:.+}", c.HandleViewYield).Methods(http.MethodGet)
	r.HandleFunc("/download_yield/{path:.+}", c.HandleDownloadYield).Methods(http.MethodGet)
	r.HandleFunc("/about", c.HandleAbout).Methods(http.MethodGet)

	// JSON / streaming API
	r.HandleFunc("/api/health", c.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/export_status/{job_id}", c.HandleJobStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs", c.HandleJobList).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{job_id}/cancel", c.HandleJobCancel).Methods(http.MethodPost)
	r.HandleFunc("/ws/jobs/{job_id}", c.HandleJobWebSocket).Methods(http.MethodGet)

	r.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)

	return r
}

// exportRoots and yieldRoots bound the files the view and download routes may serve.
func (c *Controller) exportRoots() []string { return []string{c.App.Exports.Dir()} }
func (c *Controller) yieldRoots() []string  { return []string{c.App.Yield.Dir()} }
