package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zero-network/txexporter/pkg/explorer"
	"github.com/zero-network/txexporter/pkg/jobs"
	"github.com/zero-network/txexporter/pkg/observability"
	"github.com/zero-network/txexporter/pkg/pager"
	"github.com/zero-network/txexporter/pkg/presets"
	"go.uber.org/zap"
)

// DefaultDir is where exports land unless EXPORT_DIR says otherwise.
const DefaultDir = "exports"

// Request describes one export run.
type Request struct {
	Addresses     []string
	OutputFile    string
	StartPage     int
	MaxPages      int
	PageSize      int
	Sort          explorer.Sort
	Internal      bool
	Fields        []string
	Window        pager.Window
	TokenContract string
	// APIURL overrides the configured explorer for this run.
	APIURL string
}

// Validate checks the request before it is queued.
func (r Request) Validate() error {
	if len(r.Addresses) == 0 {
		return errors.New("at least one address is required")
	}
	if r.MaxPages < 0 || r.StartPage < 0 || r.PageSize < 0 {
		return errors.New("pages and records must not be negative")
	}
	return nil
}

// RequestFromPreset converts a saved preset into a Request.
func RequestFromPreset(p presets.Preset, outputFile string) (Request, error) {
	w, err := p.Window()
	if err != nil {
		return Request{}, err
	}
	r := Request{
		Addresses:     append([]string(nil), p.Address...),
		OutputFile:    outputFile,
		StartPage:     p.Page,
		MaxPages:      p.MaxPages,
		PageSize:      p.Records,
		Sort:          explorer.ParseSort(p.Sort),
		Internal:      p.Internal,
		Fields:        append([]string(nil), p.Fields...),
		Window:        w,
		TokenContract: p.TokenContract,
		APIURL:        p.APIURL,
	}
	return r, r.Validate()
}

func (r Request) pagerOptions() pager.Options {
	return pager.Options{
		Addresses:     r.Addresses,
		StartPage:     r.StartPage,
		MaxPages:      r.MaxPages,
		PageSize:      r.PageSize,
		Sort:          r.Sort,
		Internal:      r.Internal,
		Window:        r.Window,
		TokenContract: r.TokenContract,
	}
}

// Label is the filename label: the first address, or "batch_N" for several.
func (r Request) Label() string {
	if len(r.Addresses) == 1 {
		return r.Addresses[0]
	}
	return fmt.Sprintf("batch_%d", len(r.Addresses))
}

// ServiceOpts configures a Service.
type ServiceOpts struct {
	Fetcher pager.Fetcher
	// FetcherFor builds a fetcher for a per-request API URL. Nil ignores Request.APIURL.
	FetcherFor func(baseURL string) pager.Fetcher
	Dir        string
	Logger     *zap.Logger
	Now        func() time.Time
}

// Service runs exports: pager -> CSV -> job status.
type Service struct {
	fetcher    pager.Fetcher
	fetcherFor func(string) pager.Fetcher
	dir        string
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(o ServiceOpts) *Service {
	if o.Dir == "" {
		o.Dir = DefaultDir
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Service{fetcher: o.Fetcher, fetcherFor: o.FetcherFor, dir: o.Dir, logger: o.Logger, now: o.Now}
}

// Dir returns the export directory.
func (s *Service) Dir() string { return s.dir }

// OutputFor returns req.OutputFile or a generated name inside the export directory.
func (s *Service) OutputFor(req Request) string {
	if req.OutputFile != "" {
		return req.OutputFile
	}
	return OutputFilename(s.dir, req.Label(), req.Internal, s.now())
}

// Run executes req and records progress on t. Rows collected before a failure are still written.
// It returns the number of rows exported.
func (s *Service) Run(ctx context.Context, req Request, t *jobs.Tracker) (int, error) {
	if err := req.Validate(); err != nil {
		if t != nil {
			t.Fail(err)
		}
		return 0, err
	}
	if t == nil {
		t = jobs.NewTracker("cli", jobs.KindExport, req.Addresses, req.MaxPages)
	}
	out := s.OutputFor(req)
	t.SetOutputFile(out)

	fetcher := s.fetcher
	if req.APIURL != "" && s.fetcherFor != nil {
		fetcher = s.fetcherFor(req.APIURL)
	}
	logger := s.logger.With(zap.String("job_id", t.ID()))

	res, runErr := pager.New(fetcher, logger).Run(ctx, req.pagerOptions(), t)
	if res == nil || len(res.Transfers) == 0 {
		if runErr != nil {
			t.Fail(runErr)
			return 0, runErr
		}
		err := noTransactionsError(req.Addresses)
		logger.Warn(err.Error())
		t.Fail(err)
		return 0, err
	}

	n, err := WriteFile(out, res.Transfers, req.Fields)
	if err != nil {
		t.Fail(err)
		return n, err
	}
	observability.TransfersExported.Add(float64(n))
	logger.Info("Export written",
		zap.String("file", out),
		zap.Int("transactions", n),
		zap.Int("addresses", len(req.Addresses)),
		zap.Int("failed_addresses", res.Failed()))

	if runErr != nil {
		t.Fail(runErr)
		return n, runErr
	}
	t.Complete(out)
	return n, nil
}

// NoTransactionsError reports a run that collected nothing.
type NoTransactionsError struct {
	Addresses []string
}

func (e *NoTransactionsError) Error() string {
	if len(e.Addresses) == 1 {
		return fmt.Sprintf("No transactions found for address %s", e.Addresses[0])
	}
	return fmt.Sprintf("No transactions found for any of the %d addresses", len(e.Addresses))
}

func noTransactionsError(addresses []string) error {
	return &NoTransactionsError{Addresses: addresses}
}
