package explorer

import (
	"github.com/zero-network/txexporter/pkg/retry"
	"github.com/zero-network/txexporter/pkg/utils"
	"go.uber.org/zap"
)

// OptsFromEnv reads the client settings from EXPLORER_* variables.
func OptsFromEnv(logger *zap.Logger) Opts {
	rc := retry.DefaultConfig()
	rc.MaxRetries = utils.EnvInt("EXPLORER_MAX_RETRIES", 1)
	return Opts{
		BaseURLs: utils.EnvList("EXPLORER_API_URLS", []string{DefaultBaseURL}),
		Timeout:  utils.EnvDuration("EXPLORER_TIMEOUT", 0),
		RPS:      utils.EnvInt("EXPLORER_RPS", 5),
		Burst:    utils.EnvInt("EXPLORER_BURST", 10),
		Retry:    &rc,
		Logger:   logger,
	}
}

// FetcherFor returns a constructor for clients pinned to a single base URL, sharing the rest of o.
func FetcherFor(o Opts) func(baseURL string) *Client {
	return func(baseURL string) *Client {
		c := o
		c.BaseURLs = []string{baseURL}
		return NewClient(c)
	}
}
