package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/zero-network/txexporter/pkg/observability"
	"github.com/zero-network/txexporter/pkg/retry"
	"github.com/zero-network/txexporter/pkg/utils"
	"go.uber.org/zap"
)

// DefaultBaseURL is the Zero Network Caldera explorer API.
const DefaultBaseURL = "https://zero-network.calderaexplorer.xyz/api"

const maxBodyBytes = 64 << 20

// Client is a rate limited explorer API client with a per-base-URL circuit breaker.
type Client struct {
	baseURLs []string
	client   *http.Client
	retry    retry.Config
	logger   *zap.Logger

	// token-bucket
	bucketMu    sync.Mutex
	tokens      float64
	maxTokens   float64
	refillEvery time.Duration
	lastRefill  time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new Client.
type Opts struct {
	BaseURLs        []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
	Retry           *retry.Config
	Logger          *zap.Logger
}

// NewClient creates a Client. Missing options fall back to conservative defaults.
func NewClient(o Opts) *Client {
	if o.RPS <= 0 {
		o.RPS = 5
	}
	if o.Burst <= 0 {
		o.Burst = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	rc := retry.DefaultConfig()
	if o.Retry != nil {
		rc = *o.Retry
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	baseURLs := utils.Dedup(o.BaseURLs)
	if len(baseURLs) == 0 {
		baseURLs = []string{DefaultBaseURL}
	}

	return &Client{
		baseURLs:         baseURLs,
		client:           client,
		retry:            rc,
		logger:           o.Logger,
		tokens:           float64(o.Burst),
		maxTokens:        float64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		lastRefill:       time.Now(),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
}

// BaseURLs returns the configured endpoints in failover order.
func (c *Client) BaseURLs() []string {
	out := make([]string, len(c.baseURLs))
	copy(out, c.baseURLs)
	return out
}

// acquire takes a token from the bucket, waiting for a refill when it is empty.
func (c *Client) acquire(ctx context.Context) error {
	for {
		c.bucketMu.Lock()
		now := time.Now()
		if elapsed := now.Sub(c.lastRefill); elapsed > 0 {
			c.tokens += float64(elapsed) / float64(c.refillEvery)
			if c.tokens > c.maxTokens {
				c.tokens = c.maxTokens
			}
			c.lastRefill = now
		}
		if c.tokens >= 1 {
			c.tokens--
			c.bucketMu.Unlock()
			return nil
		}
		c.bucketMu.Unlock()

		timer := time.NewTimer(c.refillEvery / 2)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// isOpen returns true while the endpoint's breaker is OPEN.
func (c *Client) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

func (c *Client) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
		c.logger.Warn("Explorer endpoint breaker opened",
			zap.String("endpoint", ep),
			zap.Duration("cooldown", c.breakerCooldown))
	}
}

func (c *Client) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// TokenTransfers fetches one page of transfers. An explorer "no data" answer is an empty slice.
func (c *Client) TokenTransfers(ctx context.Context, q Query) ([]Transfer, error) {
	if q.Address == "" {
		return nil, errors.New("explorer: address is required")
	}
	action := q.Action
	if action == "" {
		action = ActionTokenTx
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Offset <= 0 {
		q.Offset = 100
	}
	if q.Sort == "" {
		q.Sort = SortAsc
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", action)
	params.Set("address", q.Address)
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("sort", string(q.Sort))
	if q.Start != nil {
		params.Set("starttime", strconv.FormatInt(q.Start.Unix(), 10))
	}
	if q.End != nil {
		params.Set("endtime", strconv.FormatInt(q.End.Unix(), 10))
	}
	if q.ContractAddress != "" {
		params.Set("contractaddress", q.ContractAddress)
	}

	env, err := c.get(ctx, action, params)
	if err != nil {
		return nil, err
	}
	if env.Status != "1" {
		if env.emptyResult() || env.noData() {
			return []Transfer{}, nil
		}
		return nil, env.apiError()
	}
	if env.emptyResult() {
		return []Transfer{}, nil
	}

	var out []Transfer
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", action, err)
	}
	return out, nil
}

// Token looks up token metadata for a contract.
func (c *Client) Token(ctx context.Context, contract string) (*Token, error) {
	params := url.Values{}
	params.Set("module", "token")
	params.Set("action", ActionGetToken)
	params.Set("contractaddress", contract)

	env, err := c.get(ctx, ActionGetToken, params)
	if err != nil {
		return nil, err
	}
	if env.Status != "1" {
		return nil, env.apiError()
	}
	var tok Token
	if err := json.Unmarshal(env.Result, &tok); err != nil {
		return nil, fmt.Errorf("decode token result: %w", err)
	}
	return &tok, nil
}

// get runs doGet under the configured retry policy. API errors and 4xx are not retried.
func (c *Client) get(ctx context.Context, action string, params url.Values) (envelope, error) {
	var env envelope
	err := retry.WithBackoff(ctx, c.retry, c.logger, "explorer "+action, func() error {
		e, err := c.doGet(ctx, action, params)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.code < 500 {
				return retry.Permanent(err)
			}
			return err
		}
		env = e
		return nil
	})
	return env, err
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("explorer: http %d", e.code)
	}
	return fmt.Sprintf("explorer: http %d: %s", e.code, e.body)
}

// doGet sends the query to the first healthy base URL, failing over on transport and 5xx errors.
func (c *Client) doGet(ctx context.Context, action string, params url.Values) (envelope, error) {
	var lastErr error
	for _, ep := range c.baseURLs {
		if c.isOpen(ep) {
			continue
		}
		if err := c.acquire(ctx); err != nil {
			return envelope{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep+"?"+params.Encode(), nil)
		if err != nil {
			return envelope{}, err
		}
		req.Header.Set("Accept", "application/json")

		started := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			observability.ObserveExplorer(action, "transport_error", started)
			if ctx.Err() != nil {
				return envelope{}, ctx.Err()
			}
			lastErr = err
			c.noteFailure(ep)
			c.logger.Warn("Explorer request failed",
				zap.String("endpoint", ep),
				zap.String("action", action),
				zap.Error(err))
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		_ = utils.DrainAndClose(resp.Body)

		if resp.StatusCode >= 500 {
			observability.ObserveExplorer(action, "server_error", started)
			lastErr = &statusError{code: resp.StatusCode, body: utils.Snippet(body, 200)}
			c.noteFailure(ep)
			continue
		}
		if resp.StatusCode >= 300 {
			observability.ObserveExplorer(action, "client_error", started)
			return envelope{}, &statusError{code: resp.StatusCode, body: utils.Snippet(body, 200)}
		}
		if readErr != nil {
			observability.ObserveExplorer(action, "transport_error", started)
			lastErr = readErr
			c.noteFailure(ep)
			continue
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			observability.ObserveExplorer(action, "decode_error", started)
			lastErr = fmt.Errorf("decode explorer response: %w (body: %s)", err, utils.Snippet(body, 200))
			continue
		}
		c.noteSuccess(ep)
		observability.ObserveExplorer(action, "ok", started)
		c.logger.Debug("Explorer request",
			zap.String("endpoint", ep),
			zap.String("action", action),
			zap.String("address", params.Get("address")),
			zap.String("page", params.Get("page")),
			zap.String("status", env.Status),
			zap.Duration("took", time.Since(started)))
		return env, nil
	}

	if lastErr == nil {
		lastErr = errors.New("explorer: all endpoints unavailable")
	}
	return envelope{}, lastErr
}
