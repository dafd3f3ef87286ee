package explorer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-network/txexporter/pkg/retry"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, urls ...string) *Client {
	t.Helper()
	return NewClient(Opts{
		BaseURLs: urls,
		Timeout:  2 * time.Second,
		RPS:      1000,
		Burst:    1000,
		Logger:   zaptest.NewLogger(t),
	})
}

func TestTokenTransfersBuildsQuery(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[
			{"hash":"0xaa","from":"0x1","to":"0x2","value":"1000","tokenDecimal":"3","timeStamp":"1700000000","blockNumber":12,"isError":false,"extra":null}
		]}`))
	}))
	defer srv.Close()

	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 2, 23, 59, 59, 0, time.UTC)
	c := newTestClient(t, srv.URL+"/api/")
	txs, err := c.TokenTransfers(context.Background(), Query{
		Address:         "0xabc",
		Action:          ActionTokenTx,
		Page:            3,
		Offset:          50,
		Sort:            SortDesc,
		Start:           &start,
		End:             &end,
		ContractAddress: "0xtoken",
	})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	q := got.URL.Query()
	assert.Equal(t, "/api", got.URL.Path)
	assert.Equal(t, "account", q.Get("module"))
	assert.Equal(t, "tokentx", q.Get("action"))
	assert.Equal(t, "0xabc", q.Get("address"))
	assert.Equal(t, "3", q.Get("page"))
	assert.Equal(t, "50", q.Get("offset"))
	assert.Equal(t, "desc", q.Get("sort"))
	assert.Equal(t, "1738368000", q.Get("starttime"))
	assert.Equal(t, "1738540799", q.Get("endtime"))
	assert.Equal(t, "0xtoken", q.Get("contractaddress"))

	tx := txs[0]
	assert.Equal(t, "0xaa", tx.Hash)
	assert.Equal(t, "3", tx.TokenDecimal)
	assert.Equal(t, "12", tx.Field("blockNumber"))
	assert.Equal(t, "false", tx.Field("isError"))
	assert.Equal(t, "", tx.Field("extra"))
	ts, err := tx.Time()
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts.Unix())
}

func TestTokenTransfersNoData(t *testing.T) {
	cases := map[string]string{
		"no transactions": `{"status":"0","message":"No transactions found","result":[]}`,
		"no transfers":    `{"status":"0","message":"No token transfers found","result":null}`,
		"ok empty":        `{"status":"1","message":"OK","result":[]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()
			txs, err := newTestClient(t, srv.URL).TokenTransfers(context.Background(), Query{Address: "0x1"})
			require.NoError(t, err)
			assert.Empty(t, txs)
		})
	}
}

func TestTokenTransfersAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Error! Invalid address format"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).TokenTransfers(context.Background(), Query{Address: "bogus"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "NOTOK", apiErr.Message)
	assert.Equal(t, "Error! Invalid address format", apiErr.Result)
}

func TestFailoverOnServerError(t *testing.T) {
	var badHits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"hash":"0x1"}]}`))
	}))
	defer good.Close()

	c := newTestClient(t, bad.URL, good.URL)
	for i := 0; i < 4; i++ {
		txs, err := c.TokenTransfers(context.Background(), Query{Address: "0x1"})
		require.NoError(t, err)
		require.Len(t, txs, 1)
	}
	// breaker opens after 3 consecutive failures
	assert.Equal(t, int32(3), badHits.Load())
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rc := retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	c := NewClient(Opts{BaseURLs: []string{srv.URL}, RPS: 1000, Burst: 1000, Retry: &rc})
	_, err := c.TokenTransfers(context.Background(), Query{Address: "0x1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 429")
	assert.Equal(t, int32(1), hits.Load())
}

func TestRetryRecoversFromServerError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"hash":"0x1"}]}`))
	}))
	defer srv.Close()

	rc := retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	c := NewClient(Opts{BaseURLs: []string{srv.URL}, RPS: 1000, Burst: 1000, Retry: &rc})
	txs, err := c.TokenTransfers(context.Background(), Query{Address: "0x1"})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.URL.Query().Get("module"))
		assert.Equal(t, "getToken", r.URL.Query().Get("action"))
		assert.Equal(t, "0xnft", r.URL.Query().Get("contractaddress"))
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":{"name":"Colony Lands","symbol":"CLL","type":"ERC-721"}}`))
	}))
	defer srv.Close()

	tok, err := newTestClient(t, srv.URL).Token(context.Background(), "0xnft")
	require.NoError(t, err)
	assert.True(t, tok.IsNFT())
	assert.Equal(t, "CLL", tok.Symbol)
}

func TestContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(t, srv.URL).TokenTransfers(ctx, Query{Address: "0x1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestActionFor(t *testing.T) {
	assert.Equal(t, ActionTokenNFTTx, ActionFor(true, true))
	assert.Equal(t, ActionInternal, ActionFor(true, false))
	assert.Equal(t, ActionTokenTx, ActionFor(false, false))
	assert.Equal(t, SortDesc, ParseSort("DESC"))
	assert.Equal(t, SortAsc, ParseSort("sideways"))
}

func TestDefaultBaseURL(t *testing.T) {
	c := NewClient(Opts{BaseURLs: []string{"", " ", "/"}})
	assert.Equal(t, []string{DefaultBaseURL}, c.BaseURLs())
}
