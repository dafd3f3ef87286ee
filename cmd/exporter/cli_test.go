package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page1 = `{"status":"1","message":"OK","result":[
	{"hash":"0xaa","from":"0x1","to":"0x2","value":"1500000000000000000","tokenDecimal":"18","tokenSymbol":"CLNY","timeStamp":"1738411200"},
	{"hash":"0xbb","from":"0x2","to":"0x1","value":"2000","tokenDecimal":"3","tokenSymbol":"CLNY","timeStamp":"1738497600"}
]}`

const empty = `{"status":"0","message":"No transactions found","result":[]}`

type explorerStub struct {
	mu        sync.Mutex
	addresses []string
	actions   []string
}

func (s *explorerStub) handler(withData bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		s.mu.Lock()
		s.addresses = append(s.addresses, q.Get("address"))
		s.actions = append(s.actions, q.Get("action"))
		s.mu.Unlock()
		if withData && q.Get("page") == "1" {
			_, _ = w.Write([]byte(page1))
			return
		}
		_, _ = w.Write([]byte(empty))
	}
}

type env struct {
	stub    *explorerStub
	exports string
	presets string
}

func setup(t *testing.T, withData bool) *env {
	t.Helper()
	stub := &explorerStub{}
	srv := httptest.NewServer(stub.handler(withData))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	e := &env{
		stub:    stub,
		exports: filepath.Join(dir, "exports"),
		presets: filepath.Join(dir, "presets", "export_presets.json"),
	}
	t.Setenv("EXPLORER_API_URLS", srv.URL+"/api")
	t.Setenv("EXPLORER_RPS", "1000")
	t.Setenv("EXPLORER_BURST", "1000")
	t.Setenv("EXPORT_DIR", e.exports)
	t.Setenv("PRESETS_FILE", e.presets)
	t.Setenv("LOG_LEVEL", "warn")
	return e
}

func exec(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExportSingleAddress(t *testing.T) {
	e := setup(t, true)
	out := filepath.Join(t.TempDir(), "out.csv")

	code, stdout, stderr := exec("export", "-a", "0xabc", "-o", out, "--no-date-filter")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Exported 2 transactions")

	rows := readCSV(t, out)
	require.Len(t, rows, 3)
	assert.Equal(t, "1.5", rows[1][4])
	assert.Equal(t, "0xabc", e.stub.addresses[0])
	assert.Equal(t, "tokentx", e.stub.actions[0])
}

func TestExportAddressesTrailingAndFlagsAfter(t *testing.T) {
	e := setup(t, true)
	out := filepath.Join(t.TempDir(), "batch.csv")

	code, _, stderr := exec("export", "--addresses", "0x1,0x2", "0x3", "-o", out, "-i", "--no-date-filter")
	require.Equal(t, exitOK, code, stderr)

	seen := map[string]bool{}
	for _, a := range e.stub.addresses {
		seen[a] = true
	}
	assert.Equal(t, map[string]bool{"0x1": true, "0x2": true, "0x3": true}, seen)
	for _, a := range e.stub.actions {
		assert.Equal(t, "txlistinternal", a)
	}
	assert.FileExists(t, out)
}

func TestExportAddressFileKeepsHexLines(t *testing.T) {
	e := setup(t, true)
	file := filepath.Join(t.TempDir(), "addrs.txt")
	require.NoError(t, os.WriteFile(file, []byte("# wallets\n0xaaa\nnot-an-address\n\n0xbbb\n"), 0o644))

	code, _, stderr := exec("export", "--address-file", file, "--no-date-filter")
	require.Equal(t, exitOK, code, stderr)
	assert.ElementsMatch(t, []string{"0xaaa", "0xbbb"}, e.stub.addresses)

	entries, err := os.ReadDir(e.exports)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "tx_token_batch_2_"), entries[0].Name())
}

func TestExportRequiresExactlyOneSource(t *testing.T) {
	setup(t, true)

	code, _, stderr := exec("export")
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stderr, "exactly one of")

	code, _, _ = exec("export", "-a", "0x1", "-as", "0x2")
	assert.Equal(t, exitFail, code)
}

func TestExportRejectsBadInput(t *testing.T) {
	setup(t, true)

	code, _, _ := exec("export", "-a", "0x1", "-s", "sideways")
	assert.Equal(t, exitFail, code)

	code, _, _ = exec("export", "-a", "0x1", "--start-date", "02/01/2025")
	assert.Equal(t, exitFail, code)

	code, _, _ = exec("export", "-a", "0x1", "stray")
	assert.Equal(t, exitFail, code)
}

func TestExportNoTransactionsIsNotAFailure(t *testing.T) {
	e := setup(t, false)

	code, stdout, stderr := exec("export", "-a", "0xabc", "--no-date-filter")
	assert.Equal(t, exitOK, code, stderr)
	assert.NotContains(t, stdout, "Exported")
	_, err := os.Stat(e.exports)
	assert.True(t, os.IsNotExist(err))
}

func TestLegacyMode(t *testing.T) {
	setup(t, true)
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	code, _, stderr := exec("0xabc", "--no-date-filter", "-m", "1")
	require.Equal(t, exitOK, code, stderr)
	assert.FileExists(t, filepath.Join(dir, legacyOutput))
}

func TestRecent(t *testing.T) {
	e := setup(t, true)

	code, stdout, _ := exec("recent")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "No export files found.")

	require.NoError(t, os.MkdirAll(e.exports, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.exports, "a.csv"), []byte("h\n1\n2\n"), 0o644))
	code, stdout, _ = exec("recent", "-n", "3")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "a.csv")
	assert.Contains(t, stdout, "ROWS")
}

func TestPresetLifecycle(t *testing.T) {
	e := setup(t, true)

	code, stdout, _ := exec("preset", "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "No presets found.")

	code, stdout, stderr := exec("preset", "save", "daily", "-a", "0xabc,0xdef", "-m", "2", "--no-date-filter")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Preset 'daily' saved")
	assert.Contains(t, stdout, "daily: 0xabc, 0xdef (token, no date filtering, pages: 2)")
	assert.FileExists(t, e.presets)

	out := filepath.Join(t.TempDir(), "preset.csv")
	code, stdout, stderr = exec("preset", "use", "daily", "-o", out)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Exported")
	assert.ElementsMatch(t, []string{"0xabc", "0xdef"}, e.stub.addresses)

	code, stdout, _ = exec("preset", "delete", "daily")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Preset 'daily' deleted")
	assert.Contains(t, stdout, "No presets found.")
}

func TestPresetErrors(t *testing.T) {
	setup(t, true)

	code, _, stderr := exec("preset", "use", "missing")
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stderr, "missing")

	code, _, _ = exec("preset", "delete", "missing")
	assert.Equal(t, exitFail, code)

	code, _, _ = exec("preset", "save", "noaddr")
	assert.Equal(t, exitFail, code)

	code, _, _ = exec("preset", "save")
	assert.Equal(t, exitFail, code)

	code, _, _ = exec("preset", "frobnicate", "x")
	assert.Equal(t, exitFail, code)
}

func TestUsage(t *testing.T) {
	code, _, stderr := exec()
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stderr, "Usage:")

	code, stdout, _ := exec("help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "exporter recent")

	code, _, _ = exec("bogus")
	assert.Equal(t, exitFail, code)

	code, _, _ = exec("export", "-h")
	assert.Equal(t, exitOK, code)
}
