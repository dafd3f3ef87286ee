package controller

import (
	"net/http"

	"github.com/zero-network/txexporter/pkg/explorer"
	"github.com/zero-network/txexporter/pkg/jobs"
)

// HandleHealth reports liveness plus the state of the optional Redis mirror.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	for k, v := range c.App.Health(r.Context()) {
		out[k] = v
	}
	running := 0
	for _, st := range c.App.Jobs.List() {
		if st.Status == jobs.StateRunning {
			running++
		}
	}
	out["running_jobs"] = running
	for _, kind := range []jobs.Kind{jobs.KindExport, jobs.KindYield} {
		if st, ok := c.App.Jobs.Latest(kind); ok {
			out["last_"+string(kind)] = st.Status
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type aboutData struct {
	APIURLs   []string
	Contract  string
	Schedules int
}

func (c *Controller) explorerURLs() []string {
	if c.App.Explorer == nil {
		return []string{explorer.DefaultBaseURL}
	}
	return c.App.Explorer.BaseURLs()
}

// HandleAbout renders the about page.
func (c *Controller) HandleAbout(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, "about.html", "About", "about", aboutData{
		APIURLs:   c.explorerURLs(),
		Contract:  c.App.Yield.Contract(),
		Schedules: c.App.Scheduled.Size(),
	})
}
