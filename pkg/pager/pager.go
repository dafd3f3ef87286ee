package pager

import (
	"context"
	"errors"
	"fmt"

	"github.com/zero-network/txexporter/pkg/explorer"
	"github.com/zero-network/txexporter/pkg/observability"
	"go.uber.org/zap"
)

// DefaultPageSize is used when Options.PageSize is not set.
const DefaultPageSize = 100

// Fetcher is the slice of the explorer client the pager needs.
type Fetcher interface {
	TokenTransfers(ctx context.Context, q explorer.Query) ([]explorer.Transfer, error)
	Token(ctx context.Context, contract string) (*explorer.Token, error)
}

// Observer receives progress callbacks. Calls happen on the pager goroutine.
type Observer interface {
	AddressStarted(index int, address string)
	PageStarted(page int)
	PageFetched(address string, page, kept int)
	AddressFailed(address string, page int, err error)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) AddressStarted(int, string)       {}
func (NopObserver) PageStarted(int)                  {}
func (NopObserver) PageFetched(string, int, int)     {}
func (NopObserver) AddressFailed(string, int, error) {}

// Options controls a single run.
type Options struct {
	Addresses     []string
	StartPage     int
	MaxPages      int // 0 means no limit
	PageSize      int
	Sort          explorer.Sort
	Internal      bool
	Window        Window
	TokenContract string
}

// AddressSummary describes what happened for one address.
type AddressSummary struct {
	Address string
	Pages   int
	Kept    int
	Err     error
}

// Result holds every kept transfer in fetch order.
type Result struct {
	Action    string
	Transfers []explorer.Transfer
	Addresses []AddressSummary
}

// Failed returns the number of addresses aborted by an error.
func (r *Result) Failed() int {
	n := 0
	for _, a := range r.Addresses {
		if a.Err != nil {
			n++
		}
	}
	return n
}

// Pager walks the explorer's page-numbered results for a list of addresses.
type Pager struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// New creates a Pager.
func New(fetcher Fetcher, logger *zap.Logger) *Pager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pager{fetcher: fetcher, logger: logger}
}

// Run fetches every address sequentially. A page error aborts only that address.
// On context cancellation the partial result is returned with ctx.Err().
func (p *Pager) Run(ctx context.Context, opts Options, obs Observer) (*Result, error) {
	if len(opts.Addresses) == 0 {
		return nil, errors.New("pager: no addresses given")
	}
	if obs == nil {
		obs = NopObserver{}
	}
	if opts.StartPage <= 0 {
		opts.StartPage = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages < 0 {
		opts.MaxPages = 0
	}
	if opts.Sort == "" {
		opts.Sort = explorer.SortAsc
	}

	res := &Result{Action: p.resolveAction(ctx, opts)}
	if !opts.Window.IsZero() {
		p.logger.Info("Filtering transactions", zap.String("window", opts.Window.String()))
	}

	for i, addr := range opts.Addresses {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		obs.AddressStarted(i, addr)
		p.logger.Info("Processing address", zap.String("address", addr), zap.Int("index", i))

		summary, err := p.runAddress(ctx, res, addr, opts, obs)
		res.Addresses = append(res.Addresses, summary)
		if err != nil {
			return res, err
		}
		p.logger.Info("Completed address",
			zap.String("address", addr),
			zap.Int("pages", summary.Pages),
			zap.Int("transactions", summary.Kept))
	}
	p.logger.Info("Pager finished",
		zap.Int("addresses", len(opts.Addresses)),
		zap.Int("failed", res.Failed()),
		zap.Int("transactions", len(res.Transfers)))
	return res, nil
}

// runAddress returns a non-nil error only for context cancellation.
func (p *Pager) runAddress(ctx context.Context, res *Result, addr string, opts Options, obs Observer) (AddressSummary, error) {
	summary := AddressSummary{Address: addr}
	for page := opts.StartPage; ; page++ {
		obs.PageStarted(page)

		raw, err := p.fetcher.TokenTransfers(ctx, explorer.Query{
			Address:         addr,
			Action:          res.Action,
			Page:            page,
			Offset:          opts.PageSize,
			Sort:            opts.Sort,
			Start:           opts.Window.Start,
			End:             opts.Window.End,
			ContractAddress: opts.TokenContract,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, ctxErr
			}
			summary.Err = fmt.Errorf("page %d for %s: %w", page, addr, err)
			p.logger.Warn("Error processing page",
				zap.String("address", addr),
				zap.Int("page", page),
				zap.Error(err))
			obs.AddressFailed(addr, page, err)
			return summary, nil
		}
		observability.PagesFetched.Inc()
		summary.Pages++

		if len(raw) == 0 {
			p.logger.Debug("No more transactions", zap.String("address", addr), zap.Int("page", page))
			return summary, nil
		}

		kept := opts.Window.Filter(raw)
		res.Transfers = append(res.Transfers, kept...)
		summary.Kept += len(kept)
		obs.PageFetched(addr, page, len(kept))
		p.logger.Debug("Retrieved page",
			zap.String("address", addr),
			zap.Int("page", page),
			zap.Int("raw", len(raw)),
			zap.Int("kept", len(kept)))

		if opts.MaxPages > 0 && page >= opts.StartPage+opts.MaxPages-1 {
			p.logger.Info("Reached maximum pages limit", zap.String("address", addr), zap.Int("max_pages", opts.MaxPages))
			return summary, nil
		}
		if len(raw) < opts.PageSize {
			return summary, nil
		}
	}
}

// resolveAction looks the token contract up once per run. Lookup failures fall back to the fungible action.
func (p *Pager) resolveAction(ctx context.Context, opts Options) string {
	nft := false
	if opts.TokenContract != "" {
		tok, err := p.fetcher.Token(ctx, opts.TokenContract)
		switch {
		case err != nil:
			p.logger.Warn("Error checking token type", zap.String("contract", opts.TokenContract), zap.Error(err))
		case tok.IsNFT():
			nft = true
			p.logger.Info("Token detected as ERC-721", zap.String("contract", opts.TokenContract))
		}
	}
	return explorer.ActionFor(opts.Internal, nft)
}
