package presets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zero-network/txexporter/pkg/pager"
)

// Addresses is one or more addresses. A single address is stored as a plain JSON string.
type Addresses []string

func (a Addresses) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

func (a *Addresses) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			*a = nil
			return nil
		}
		*a = Addresses{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("address must be a string or a list of strings: %w", err)
	}
	out := make(Addresses, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*a = out
	return nil
}

// String renders the addresses comma separated.
func (a Addresses) String() string {
	return strings.Join(a, ", ")
}

// Preset is a saved export configuration.
type Preset struct {
	Address       Addresses `json:"address"`
	MaxPages      int       `json:"max_pages,omitempty"`
	Records       int       `json:"records,omitempty"`
	Page          int       `json:"page,omitempty"`
	Sort          string    `json:"sort,omitempty"`
	Internal      bool      `json:"internal,omitempty"`
	Fields        []string  `json:"fields,omitempty"`
	TokenContract string    `json:"token_contract,omitempty"`
	NoDateFilter  bool      `json:"no_date_filter,omitempty"`
	StartDate     string    `json:"start_date,omitempty"`
	EndDate       string    `json:"end_date,omitempty"`
	APIURL        string    `json:"api_url,omitempty"`
	// Schedule is an optional cron expression for unattended runs.
	Schedule string `json:"schedule,omitempty"`
}

// Validate checks the fields a run depends on.
func (p Preset) Validate() error {
	if len(p.Address) == 0 {
		return fmt.Errorf("preset has no address")
	}
	if p.Sort != "" && p.Sort != "asc" && p.Sort != "desc" {
		return fmt.Errorf("invalid sort %q", p.Sort)
	}
	if p.MaxPages < 0 || p.Records < 0 || p.Page < 0 {
		return fmt.Errorf("pages and records must not be negative")
	}
	if _, err := p.Window(); err != nil {
		return err
	}
	return nil
}

// Window resolves the date filter, honouring no_date_filter.
func (p Preset) Window() (pager.Window, error) {
	if p.NoDateFilter {
		return pager.Window{}, nil
	}
	return pager.ParseWindow(p.StartDate, p.EndDate)
}

// DateRange describes the date filter for listings.
func (p Preset) DateRange() string {
	switch {
	case p.NoDateFilter:
		return "no date filtering"
	case p.StartDate != "" && p.EndDate != "":
		return p.StartDate + " to " + p.EndDate
	case p.StartDate != "":
		return "from " + p.StartDate
	case p.EndDate != "":
		return "until " + p.EndDate
	default:
		return "all dates"
	}
}

// Describe returns a one-line summary, e.g. "0xabc (token, 2025-02-01 to 2025-04-05, pages: all)".
func (p Preset) Describe() string {
	kind := "token"
	if p.Internal {
		kind = "internal"
	}
	pages := "all"
	if p.MaxPages > 0 {
		pages = strconv.Itoa(p.MaxPages)
	}
	addr := p.Address.String()
	if addr == "" {
		addr = "N/A"
	}
	return fmt.Sprintf("%s (%s, %s, pages: %s)", addr, kind, p.DateRange(), pages)
}
