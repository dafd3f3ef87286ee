package controller

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/zero-network/txexporter/pkg/explorer"
	"github.com/zero-network/txexporter/pkg/export"
	"github.com/zero-network/txexporter/pkg/files"
	"github.com/zero-network/txexporter/pkg/pager"
	"github.com/zero-network/txexporter/pkg/presets"
	"go.uber.org/zap"
)

const (
	recentExports = 10
	previewRows   = 100
	maxUploadSize = 8 << 20
)

type presetRow struct {
	Name        string
	Description string
	Preset      presets.Preset
}

type indexData struct {
	Exports []files.Info
	Presets []presetRow
}

// HandleIndex renders the dashboard.
func (c *Controller) HandleIndex(w http.ResponseWriter, r *http.Request) {
	paths, err := files.Recent(c.exportRoots(), "*.csv", recentExports)
	if err != nil {
		c.App.Logger.Warn("Failed to list recent exports", zap.Error(err))
	}
	c.render(w, r, "index.html", "Dashboard", "home", indexData{
		Exports: c.App.Files.DescribeAll(paths),
		Presets: c.presetRows(),
	})
}

func (c *Controller) presetRows() []presetRow {
	all, err := c.App.Presets.Load()
	if err != nil {
		c.App.Logger.Warn("Failed to load presets", zap.Error(err))
		return nil
	}
	names, _ := c.App.Presets.Names()
	rows := make([]presetRow, 0, len(names))
	for _, n := range names {
		p, ok := all[n]
		if !ok {
			continue
		}
		rows = append(rows, presetRow{Name: n, Description: p.Describe(), Preset: p})
	}
	return rows
}

type exportFormData struct {
	Fields []string
}

// HandleExportForm renders the export form.
func (c *Controller) HandleExportForm(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, "export.html", "Export", "export", exportFormData{Fields: export.ExtraFields})
}

// HandleExportSubmit parses the form, queues the export and redirects to its status page.
func (c *Controller) HandleExportSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error reading form: %v", err), "/export")
		return
	}

	addresses, err := formAddresses(r)
	if err != nil {
		c.flashRedirect(w, r, "danger", err.Error(), "/export")
		return
	}

	req, err := requestFromForm(r, addresses)
	if err != nil {
		c.flashRedirect(w, r, "danger", err.Error(), "/export")
		return
	}

	t, err := c.App.SubmitExport(req)
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error exporting data: %v", err), "/export")
		return
	}
	http.Redirect(w, r, "/export_status/"+url.PathEscape(t.ID()), http.StatusSeeOther)
}

// formAddresses reads addresses from an uploaded file, the single address field or the list field, in that order.
func formAddresses(r *http.Request) ([]string, error) {
	if f, hdr, err := r.FormFile("address_file"); err == nil {
		defer f.Close()
		if hdr.Filename != "" {
			addrs, err := export.ReadAddresses(io.LimitReader(f, maxUploadSize),
				strings.EqualFold(filepath.Ext(hdr.Filename), ".csv"))
			if err != nil {
				return nil, fmt.Errorf("Error processing address file: %w", err)
			}
			if len(addrs) == 0 {
				return nil, errors.New("No valid addresses found in uploaded file")
			}
			return addrs, nil
		}
	}
	if single := strings.TrimSpace(r.FormValue("address")); single != "" {
		return []string{single}, nil
	}
	if list := export.ParseAddresses(r.FormValue("addresses_list")); len(list) > 0 {
		return list, nil
	}
	return nil, errors.New("At least one valid address is required")
}

// formInt parses an optional non-negative integer field.
func formInt(r *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", strings.ReplaceAll(key, "_", " "), v)
	}
	return n, nil
}

func formBool(r *http.Request, key string) bool {
	v := r.FormValue(key)
	return v == "on" || v == "true" || v == "1"
}

// formFields collects extra column checkboxes plus a free comma list.
func formFields(r *http.Request) []string {
	fields := append([]string(nil), r.Form["fields"]...)
	fields = append(fields, export.ParseAddresses(r.FormValue("extra_fields"))...)
	return fields
}

func formWindow(r *http.Request) (pager.Window, error) {
	if formBool(r, "no_date_filter") {
		return pager.Window{}, nil
	}
	return pager.ParseWindow(r.FormValue("start_date"), r.FormValue("end_date"))
}

func requestFromForm(r *http.Request, addresses []string) (export.Request, error) {
	maxPages, err := formInt(r, "max_pages", 0)
	if err != nil {
		return export.Request{}, err
	}
	records, err := formInt(r, "records", pager.DefaultPageSize)
	if err != nil {
		return export.Request{}, err
	}
	window, err := formWindow(r)
	if err != nil {
		return export.Request{}, err
	}
	return export.Request{
		Addresses:     addresses,
		StartPage:     1,
		MaxPages:      maxPages,
		PageSize:      records,
		Sort:          explorer.ParseSort(r.FormValue("sort")),
		Internal:      formBool(r, "internal"),
		Fields:        formFields(r),
		Window:        window,
		TokenContract: strings.TrimSpace(r.FormValue("token_contract")),
	}, nil
}

// HandleRunPreset queues a saved preset and redirects to its status page.
func (c *Controller) HandleRunPreset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	t, err := c.App.SubmitPreset(name)
	switch {
	case errors.Is(err, presets.ErrNotFound):
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Preset '%s' not found", name), "/")
		return
	case err != nil:
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error running preset '%s': %v", name, err), "/")
		return
	}
	http.Redirect(w, r, "/export_status/"+url.PathEscape(t.ID()), http.StatusSeeOther)
}

type viewData struct {
	File    files.Info
	Preview *files.Preview
	Showing int
}

// HandleView previews the first rows of an export.
func (c *Controller) HandleView(w http.ResponseWriter, r *http.Request) {
	p, err := files.Resolve(c.exportRoots(), mux.Vars(r)["path"])
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error viewing file: %v", err), "/")
		return
	}
	info, err := c.App.Files.Describe(p)
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error viewing file: %v", err), "/")
		return
	}
	preview, err := files.ReadPreview(p, previewRows)
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error viewing file: %v", err), "/")
		return
	}
	c.render(w, r, "view.html", info.Name, "home", viewData{File: info, Preview: preview, Showing: len(preview.Rows)})
}

// HandleDownload sends an export as an attachment.
func (c *Controller) HandleDownload(w http.ResponseWriter, r *http.Request) {
	c.serveAttachment(w, r, c.exportRoots(), "/")
}

func (c *Controller) serveAttachment(w http.ResponseWriter, r *http.Request, roots []string, fallback string) {
	p, err := files.Resolve(roots, mux.Vars(r)["path"])
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error downloading file: %v", err), fallback)
		return
	}
	f, err := os.Open(p)
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error downloading file: %v", err), fallback)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error downloading file: %v", err), fallback)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(p)))
	http.ServeContent(w, r, filepath.Base(p), st.ModTime(), f)
}

type statusPageData struct {
	JobID string
	Kind  string
	Chart string
}

// HandleExportStatusPage renders the progress page for an export job.
func (c *Controller) HandleExportStatusPage(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, "status.html", "Export Status", "export", statusPageData{
		JobID: mux.Vars(r)["job_id"],
		Kind:  "export",
	})
}
