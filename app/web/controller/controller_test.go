package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-network/txexporter/app/web/types"
	"github.com/zero-network/txexporter/pkg/explorer"
	"github.com/zero-network/txexporter/pkg/export"
	"github.com/zero-network/txexporter/pkg/files"
	"github.com/zero-network/txexporter/pkg/jobs"
	"github.com/zero-network/txexporter/pkg/presets"
	"github.com/zero-network/txexporter/pkg/yield"
	"go.uber.org/zap/zaptest"
)

// fakeFetcher serves one page of transfers per address.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []explorer.Query
}

func (f *fakeFetcher) TokenTransfers(_ context.Context, q explorer.Query) ([]explorer.Transfer, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.mu.Unlock()
	if q.Page > 1 {
		return nil, nil
	}
	base := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC).Unix()
	return []explorer.Transfer{
		explorer.NewTransfer(map[string]string{
			"hash": "0x1", "from": q.Address, "to": "0xto", "value": "1000000000000000000",
			"tokenDecimal": "18", "timeStamp": strconv.FormatInt(base, 10),
		}),
		explorer.NewTransfer(map[string]string{
			"hash": "0x2", "from": q.Address, "to": "0xto", "value": "2000000000000000000",
			"tokenDecimal": "18", "timeStamp": strconv.FormatInt(base+86400, 10),
		}),
	}, nil
}

func (f *fakeFetcher) Token(context.Context, string) (*explorer.Token, error) {
	return &explorer.Token{Type: "ERC-20"}, nil
}

type fixture struct {
	ctl       *Controller
	router    http.Handler
	app       *types.App
	exportDir string
	yieldDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	exportDir := filepath.Join(dir, "exports")
	yieldDir := filepath.Join(dir, "yield")
	require.NoError(t, os.MkdirAll(exportDir, 0o755))
	require.NoError(t, os.MkdirAll(yieldDir, 0o755))

	fetcher := &fakeFetcher{}
	manager := jobs.NewManager(context.Background(), jobs.Opts{Workers: 2, Logger: logger})
	t.Cleanup(manager.Stop)

	app := &types.App{
		Exports:   export.NewService(export.ServiceOpts{Fetcher: fetcher, Dir: exportDir, Logger: logger}),
		Yield:     yield.NewAnalyzer(yield.Opts{Fetcher: fetcher, Dir: yieldDir, Logger: logger}),
		Presets:   presets.NewStore(filepath.Join(dir, "presets.json"), logger),
		Files:     files.NewDescriber(16),
		Jobs:      manager,
		Scheduled: xsync.NewMapOf[string, types.Schedule](),
		Logger:    logger,
	}
	ctl, err := NewController(app)
	require.NoError(t, err)
	ctl.FlashSecret = []byte("test-secret")
	return &fixture{ctl: ctl, router: ctl.NewRouter(), app: app, exportDir: exportDir, yieldDir: yieldDir}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func (f *fixture) waitTerminal(t *testing.T, id string) jobs.Status {
	t.Helper()
	var st jobs.Status
	require.Eventually(t, func() bool {
		var err error
		st, err = f.app.Jobs.Get(context.Background(), id)
		return err == nil && st.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func jobIDFrom(t *testing.T, location, prefix string) string {
	t.Helper()
	require.True(t, strings.HasPrefix(location, prefix), location)
	id := strings.TrimPrefix(location, prefix)
	if i := strings.Index(id, "?"); i >= 0 {
		id = id[:i]
	}
	return id
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "disabled", body["redis"])
}

func TestUnknownJobStatus(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/export_status/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Job not found or completed","status":"unknown"}`, rec.Body.String())

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/jobs/nope/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportSubmitRunsJob(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, postForm("/export", url.Values{
		"address":    {"0xabc1234567"},
		"records":    {"100"},
		"start_date": {"2025-02-01"},
		"end_date":   {"2025-02-01"},
		"fields":     {"gasUsed"},
	}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	id := jobIDFrom(t, rec.Header().Get("Location"), "/export_status/")

	st := f.waitTerminal(t, id)
	assert.Equal(t, jobs.StateCompleted, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, 1, st.TotalTransactions, "second transfer falls outside the window")
	require.FileExists(t, st.OutputFile)
	assert.Equal(t, f.exportDir, filepath.Dir(st.OutputFile))

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/export_status/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got jobs.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, id, got.JobID)
	assert.Equal(t, jobs.StateCompleted, got.Status)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/export_status/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)
}

func TestExportSubmitWithoutAddressFlashes(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, postForm("/export", url.Values{"records": {"100"}}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/export", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "At least one valid address is required")
}

func TestExportSubmitRejectsBadDates(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, postForm("/export", url.Values{
		"address":    {"0xabc"},
		"start_date": {"2025-03-01"},
		"end_date":   {"2025-02-01"},
	}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/export", rec.Header().Get("Location"))
	assert.Empty(t, f.app.Jobs.List())
}

func TestFlashRoundTrip(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.ctl.flash(rec, httptest.NewRequest(http.MethodGet, "/", nil), "success", "saved")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	assert.Equal(t, []Flash{{Category: "success", Message: "saved"}}, f.ctl.readFlashes(req))

	// A cookie signed with another secret is ignored.
	other := *f.ctl
	other.FlashSecret = []byte("other")
	assert.Empty(t, other.readFlashes(req))
}

func TestPresetsSaveRunDelete(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, postForm("/presets", url.Values{
		"action":         {"save"},
		"preset_name":    {"daily"},
		"addresses_list": {"0xaaa, 0xbbb"},
		"records":        {"50"},
		"no_date_filter": {"on"},
		"schedule":       {"@daily"},
	}))
	require.Equal(t, http.StatusSeeOther, rec.Code)

	p, err := f.app.Presets.Get("daily")
	require.NoError(t, err)
	assert.Equal(t, presets.Addresses{"0xaaa", "0xbbb"}, p.Address)
	assert.Equal(t, 50, p.Records)
	assert.True(t, p.NoDateFilter)
	assert.Equal(t, "@daily", p.Schedule)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/presets", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "daily")

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/run_preset/daily", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	id := jobIDFrom(t, rec.Header().Get("Location"), "/export_status/")
	st := f.waitTerminal(t, id)
	assert.Equal(t, jobs.StateCompleted, st.Status)
	assert.Equal(t, 2, st.TotalAddresses)
	assert.Contains(t, filepath.Base(st.OutputFile), "batch_2")

	rec = f.do(t, postForm("/presets", url.Values{"action": {"delete"}, "preset_name": {"daily"}}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	_, err = f.app.Presets.Get("daily")
	assert.ErrorIs(t, err, presets.ErrNotFound)
}

func TestPresetInvalidScheduleRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, postForm("/presets", url.Values{
		"action":      {"save"},
		"preset_name": {"bad"},
		"address":     {"0xaaa"},
		"schedule":    {"every now and then"},
	}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	_, err := f.app.Presets.Get("bad")
	assert.ErrorIs(t, err, presets.ErrNotFound)
}

func TestRunUnknownPresetRedirectsHome(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/run_preset/missing", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func writeExport(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("Timestamp,Value\n2025-02-01 00:00:00,1\n2025-02-02 00:00:00,2\n"), 0o644))
	return p
}

func TestIndexViewAndDownload(t *testing.T) {
	f := newFixture(t)
	writeExport(t, f.exportDir, "tx_token_0xabc_20250201_000000.csv")

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tx_token_0xabc_20250201_000000.csv")

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/view/tx_token_0xabc_20250201_000000.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2025-02-02 00:00:00")

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/download/tx_token_0xabc_20250201_000000.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "Timestamp,Value")
}

func TestViewMissingFileRedirects(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/view/nope.csv", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	outside := filepath.Join(t.TempDir(), "secret.csv")
	require.NoError(t, os.WriteFile(outside, []byte("a\n1\n"), 0o644))
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/download/"+strings.TrimPrefix(outside, "/"), nil))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestYieldSubmitAndView(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, postForm("/yield", url.Values{"window_days": {"2"}, "chart_type": {"bar"}}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Contains(t, loc, "chart=bar")
	id := jobIDFrom(t, loc, "/yield_status/")

	st := f.waitTerminal(t, id)
	require.Equal(t, jobs.StateCompleted, st.Status, st.Error)
	require.FileExists(t, st.OutputFile)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, loc, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/view_yield/"+filepath.Base(st.OutputFile)+"?chart=both&window=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "data:image/png;base64,")
	assert.Contains(t, body, "2025-02-02")

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/yield", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), filepath.Base(st.OutputFile))
}

func TestJobWebSocketStreamsUntilDone(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	release := make(chan struct{})
	tr, err := f.app.Jobs.Submit(jobs.KindExport, []string{"0xabc"}, 0, func(ctx context.Context, tr *jobs.Tracker) error {
		<-release
		tr.AddTransactions(3)
		return nil
	})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/jobs/" + tr.ID()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first wsMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)
	assert.Equal(t, jobs.StateRunning, first.Payload.Status)

	close(release)
	var last wsMessage
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
		last = msg
	}
	assert.Equal(t, jobs.StateCompleted, last.Payload.Status)
	assert.Equal(t, 3, last.Payload.TotalTransactions)
}

func TestJobWebSocketUnknownJob(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/ws/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAboutAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/about", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), yield.CLNYContract)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "txexporter_")
}
