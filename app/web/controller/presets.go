package controller

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zero-network/txexporter/app/web/types"
	"github.com/zero-network/txexporter/pkg/export"
	"github.com/zero-network/txexporter/pkg/presets"
	"go.uber.org/zap"
)

type presetsData struct {
	Presets []presetRow
	Fields  []string
}

// HandlePresets lists saved presets next to the save form.
func (c *Controller) HandlePresets(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, "presets.html", "Presets", "presets", presetsData{
		Presets: c.presetRows(),
		Fields:  export.ExtraFields,
	})
}

// HandlePresetsAction handles action=save and action=delete.
func (c *Controller) HandlePresetsAction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		c.flashRedirect(w, r, "danger", fmt.Sprintf("Error reading form: %v", err), "/presets")
		return
	}
	name := strings.TrimSpace(r.FormValue("preset_name"))

	switch r.FormValue("action") {
	case "save":
		p, err := presetFromForm(r)
		if name == "" || err != nil {
			msg := "Preset name and at least one address are required"
			if err != nil && name != "" {
				msg = err.Error()
			}
			c.flashRedirect(w, r, "danger", msg, "/presets")
			return
		}
		if err := c.App.Presets.Save(name, p); err != nil {
			c.App.Logger.Warn("Failed to save preset", zap.String("preset", name), zap.Error(err))
			c.flashRedirect(w, r, "danger", fmt.Sprintf("Error saving preset '%s': %v", name, err), "/presets")
			return
		}
		c.reconcile()
		c.flashRedirect(w, r, "success", fmt.Sprintf("Preset '%s' saved successfully", name), "/presets")

	case "delete":
		err := c.App.Presets.Delete(name)
		if err != nil {
			msg := fmt.Sprintf("Error deleting preset '%s': %v", name, err)
			if errors.Is(err, presets.ErrNotFound) {
				msg = fmt.Sprintf("Preset '%s' not found", name)
			}
			c.flashRedirect(w, r, "danger", msg, "/presets")
			return
		}
		c.reconcile()
		c.flashRedirect(w, r, "success", fmt.Sprintf("Preset '%s' deleted successfully", name), "/presets")

	default:
		c.flashRedirect(w, r, "danger", "Unknown preset action", "/presets")
	}
}

// reconcile refreshes cron entries after the preset file changed.
func (c *Controller) reconcile() {
	if err := c.App.ReconcileSchedules(); err != nil {
		c.App.Logger.Warn("Failed to reconcile preset schedules", zap.Error(err))
	}
}

func presetFromForm(r *http.Request) (presets.Preset, error) {
	var addrs []string
	if single := strings.TrimSpace(r.FormValue("address")); single != "" {
		addrs = []string{single}
	} else {
		addrs = export.ParseAddresses(r.FormValue("addresses_list"))
	}
	if len(addrs) == 0 {
		return presets.Preset{}, errors.New("at least one address is required")
	}

	maxPages, err := formInt(r, "max_pages", 0)
	if err != nil {
		return presets.Preset{}, err
	}
	records, err := formInt(r, "records", 100)
	if err != nil {
		return presets.Preset{}, err
	}

	p := presets.Preset{
		Address:       presets.Addresses(addrs),
		MaxPages:      maxPages,
		Records:       records,
		Sort:          r.FormValue("sort"),
		Internal:      formBool(r, "internal"),
		Fields:        formFields(r),
		TokenContract: strings.TrimSpace(r.FormValue("token_contract")),
		NoDateFilter:  formBool(r, "no_date_filter"),
		APIURL:        strings.TrimSpace(r.FormValue("api_url")),
		Schedule:      strings.TrimSpace(r.FormValue("schedule")),
	}
	if p.Sort == "" {
		p.Sort = "asc"
	}
	if !p.NoDateFilter {
		p.StartDate = strings.TrimSpace(r.FormValue("start_date"))
		p.EndDate = strings.TrimSpace(r.FormValue("end_date"))
	}
	if p.Schedule != "" {
		if _, err := types.ScheduleParser.Parse(p.Schedule); err != nil {
			return p, fmt.Errorf("invalid schedule %q: %w", p.Schedule, err)
		}
	}
	return p, p.Validate()
}
