package yield

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/zero-network/txexporter/pkg/explorer"
	"github.com/zero-network/txexporter/pkg/jobs"
	"github.com/zero-network/txexporter/pkg/pager"
	"go.uber.org/zap"
)

const (
	// CLNYContract is the Colony token on Zero Network.
	CLNYContract = "0x23cfb27031FfB204a9161cf6D5994dA6df5c4ae7"
	// DefaultWindowDays is the moving average window.
	DefaultWindowDays = 7
	// PageSize is the largest page the explorer serves.
	PageSize = 1000
	// DefaultDir holds yield reports unless YIELD_DIR says otherwise.
	DefaultDir = "yield_data"
)

// Report is the outcome of one analysis run.
type Report struct {
	OutputFile string
	Rows       []DailyRow
	Stats      Stats
	WindowDays int
	Transfers  int
}

// Options narrows a run.
type Options struct {
	Window     pager.Window
	WindowDays int
}

// Opts configures an Analyzer.
type Opts struct {
	Fetcher    pager.Fetcher
	Contract   string
	WindowDays int
	// ExpectedPages feeds the yield progress estimate; 0 keeps the tracker default.
	ExpectedPages int
	Dir           string
	Logger        *zap.Logger
	Now           func() time.Time
}

// Analyzer fetches a token's transfer history and aggregates it into daily yield.
type Analyzer struct {
	fetcher       pager.Fetcher
	contract      string
	windowDays    int
	expectedPages int
	dir           string
	logger        *zap.Logger
	now           func() time.Time
}

func NewAnalyzer(o Opts) *Analyzer {
	if o.Contract == "" {
		o.Contract = CLNYContract
	}
	if o.WindowDays <= 0 {
		o.WindowDays = DefaultWindowDays
	}
	if o.Dir == "" {
		o.Dir = DefaultDir
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Analyzer{
		fetcher:       o.Fetcher,
		contract:      o.Contract,
		windowDays:    o.WindowDays,
		expectedPages: o.ExpectedPages,
		dir:           o.Dir,
		logger:        o.Logger,
		now:           o.Now,
	}
}

// Dir returns the report directory.
func (a *Analyzer) Dir() string { return a.dir }

// Contract returns the analysed token contract.
func (a *Analyzer) Contract() string { return a.contract }

// WindowDays returns the default moving average window.
func (a *Analyzer) WindowDays() int { return a.windowDays }

// Generate fetches, aggregates and saves a report. A fetch error fails the job and returns an empty report.
func (a *Analyzer) Generate(ctx context.Context, opts Options, t *jobs.Tracker) (*Report, error) {
	window := opts.WindowDays
	if window <= 0 {
		window = a.windowDays
	}
	if t == nil {
		t = jobs.NewTracker("cli", jobs.KindYield, []string{a.contract}, 0)
	}
	if a.expectedPages > 0 {
		t.SetTotalPages(a.expectedPages)
	}
	report := &Report{WindowDays: window}
	logger := a.logger.With(zap.String("job_id", t.ID()), zap.String("contract", a.contract))

	res, err := pager.New(a.fetcher, logger).Run(ctx, pager.Options{
		Addresses: []string{a.contract},
		PageSize:  PageSize,
		Sort:      explorer.SortAsc,
		Window:    opts.Window,
	}, t)
	if err == nil && res != nil && len(res.Addresses) > 0 && res.Addresses[0].Err != nil {
		err = res.Addresses[0].Err
	}
	if err != nil {
		err = fmt.Errorf("Error fetching CLNY transfers: %w", err)
		logger.Error("Yield fetch failed", zap.Error(err))
		t.Fail(err)
		return report, err
	}

	report.Transfers = len(res.Transfers)
	report.Rows = Compute(res.Transfers, window)
	report.Stats = Summarize(report.Rows, report.Transfers)

	out := filepath.Join(a.dir, fmt.Sprintf("clny_yield_%s.csv", a.now().Format("20060102_150405")))
	if err := WriteFile(out, report.Rows); err != nil {
		err = fmt.Errorf("save yield report: %w", err)
		t.Fail(err)
		return report, err
	}
	report.OutputFile = out
	logger.Info("Yield report saved",
		zap.String("file", out),
		zap.Int("transfers", report.Transfers),
		zap.Int("days", len(report.Rows)))
	t.Complete(out)
	return report, nil
}
