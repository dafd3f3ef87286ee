package controller

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/zero-network/txexporter/pkg/chart"
	"github.com/zero-network/txexporter/pkg/files"
	"github.com/zero-network/txexporter/pkg/pager"
	"github.com/zero-network/txexporter/pkg/yield"
	"go.uber.org/zap"
)

const recentReports = 5

type yieldData struct {
	Contract      string
	WindowDays    int
	RecentReports []files.Info

	// Set when a report is displayed.
	Report *yieldReport
}

type yieldReport struct {
	File  files.Info
	Rows  []yield.DailyRow
	Stats yield.Stats
	Chart template.URL
	Type  chart.Type
}

// HandleYieldForm renders the analysis form and the recent reports.
func (c *Controller) HandleYieldForm(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, "yield.html", "CLNY Yield", "yield", c.yieldPage(nil))
}

func (c *Controller) yieldPage(report *yieldReport) yieldData {
	paths, err := yield.RecentReports(c.App.Yield.Dir(), recentReports)
	if err != nil {
		c.App.Logger.Warn("Failed to list yield reports", zap.Error(err))
	}
	return yieldData{
		Contract:      c.App.Yield.Contract(),
		WindowDays:    c.App.Yield.WindowDays(),
		RecentReports: c.App.Files.DescribeAll(paths),
		Report:        report,
	}
}

// HandleYieldSubmit queues an analysis and redirects to its status page.
func (c *Controller) HandleYieldSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error reading form: %v", err), "/yield")
		return
	}
	window, err := pager.ParseWindow(r.FormValue("start_date"), r.FormValue("end_date"))
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error analyzing yield data: %v", err), "/yield")
		return
	}
	windowDays, err := formInt(r, "window_days", c.App.Yield.WindowDays())
	if err != nil || windowDays == 0 {
		c.flashRedirect(w, r, "danger", "Moving average window must be a positive number of days", "/yield")
		return
	}
	typ := chart.ParseType(r.FormValue("chart_type"))

	t, err := c.App.SubmitYield(window, windowDays)
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error analyzing yield data: %v", err), "/yield")
		return
	}
	q := url.Values{"chart": {string(typ)}, "window": {fmt.Sprint(windowDays)}}
	http.Redirect(w, r, "/yield_status/"+url.PathEscape(t.ID())+"?"+q.Encode(), http.StatusSeeOther)
}

// HandleYieldStatusPage renders the progress page for a yield job.
func (c *Controller) HandleYieldStatusPage(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, "status.html", "Yield Analysis Status", "yield", statusPageData{
		JobID: mux.Vars(r)["job_id"],
		Kind:  "yield",
		Chart: url.Values{
			"chart":  {string(chart.ParseType(r.URL.Query().Get("chart")))},
			"window": {r.URL.Query().Get("window")},
		}.Encode(),
	})
}

// HandleViewYield shows a saved report with statistics and a chart.
func (c *Controller) HandleViewYield(w http.ResponseWriter, r *http.Request) {
	p, err := files.Resolve(c.yieldRoots(), mux.Vars(r)["path"])
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error viewing yield report: %v", err), "/yield")
		return
	}
	rows, err := yield.ReadFile(p)
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error viewing yield report: %v", err), "/yield")
		return
	}
	info, err := c.App.Files.Describe(p)
	if err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error viewing yield report: %v", err), "/yield")
		return
	}

	windowDays := c.App.Yield.WindowDays()
	if n, err := formInt(r, "window", windowDays); err == nil && n > 0 {
		windowDays = n
	}
	typ := chart.Both
	if v := r.URL.Query().Get("chart"); v != "" {
		typ = chart.ParseType(v)
	}

	report := &yieldReport{File: info, Rows: rows, Stats: yield.Summarize(rows, len(rows)), Type: typ}
	var notes []Flash
	img, err := chart.RenderBase64(rows, typ, windowDays)
	switch {
	case errors.Is(err, chart.ErrNoData):
		notes = append(notes, Flash{Category: "warning", Message: "The API returned no data for the selected date range. " +
			"Try using a different date range or check the contract address."})
	case err != nil:
		c.App.Logger.Warn("Failed to render yield chart", zap.String("file", p), zap.Error(err))
		notes = append(notes, Flash{Category: "danger", Message: fmt.Sprintf("Error rendering chart: %v", err)})
	default:
		report.Chart = template.URL("data:image/png;base64," + img)
	}

	data := c.yieldPage(report)
	data.WindowDays = windowDays
	c.render(w, r, "yield.html", "CLNY Yield", "yield", data, notes...)
}

// HandleDownloadYield sends a yield report as an attachment.
func (c *Controller) HandleDownloadYield(w http.ResponseWriter, r *http.Request) {
	c.serveAttachment(w, r, c.yieldRoots(), "/yield")
}
