package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExportProgressFormula(t *testing.T) {
	tr := NewTracker("job", KindExport, []string{"0xa", "0xb"}, 0)
	// 1 page of 2*10
	assert.Equal(t, 5, tr.Snapshot().Progress)

	tr.SetPage(4)
	assert.Equal(t, 20, tr.Snapshot().Progress)

	tr.SetAddress("0xb")
	st := tr.Snapshot()
	assert.Equal(t, 1, st.ProcessedAddresses)
	assert.Equal(t, 1, st.CurrentPage)
	assert.Equal(t, 55, st.Progress)

	tr.SetPage(50)
	assert.Equal(t, 99, tr.Snapshot().Progress)

	tr.Complete("out.csv")
	st = tr.Snapshot()
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, StateCompleted, st.Status)
	assert.Equal(t, "out.csv", st.OutputFile)
	require.NotNil(t, st.EndTime)
}

func TestExportProgressUsesMaxPages(t *testing.T) {
	tr := NewTracker("job", KindExport, []string{"0xa"}, 4)
	tr.SetPage(2)
	assert.Equal(t, 50, tr.Snapshot().Progress)
}

func TestSameAddressDoesNotCountAsProcessed(t *testing.T) {
	tr := NewTracker("job", KindExport, []string{"0xa", "0xb"}, 0)
	tr.SetAddress("0xa")
	assert.Equal(t, 0, tr.Snapshot().ProcessedAddresses)
}

func TestYieldProgressCappedAt95(t *testing.T) {
	tr := NewTracker("job", KindYield, []string{"0xclny"}, 0)
	tr.SetPage(3)
	assert.Equal(t, 30, tr.Snapshot().Progress)
	tr.SetPage(40)
	assert.Equal(t, 95, tr.Snapshot().Progress)
	tr.SetTotalPages(80)
	assert.Equal(t, 50, tr.Snapshot().Progress)
}

func TestWarnKeepsRunningAndFailIsTerminal(t *testing.T) {
	tr := NewTracker("job", KindExport, []string{"0xa"}, 0)
	tr.AddressFailed("0xa", 2, errors.New("page broke"))
	st := tr.Snapshot()
	assert.Equal(t, StateRunning, st.Status)
	assert.Equal(t, "page broke", st.Error)

	tr.Fail(context.Canceled)
	st = tr.Snapshot()
	assert.Equal(t, StateError, st.Status)
	assert.Equal(t, "job cancelled", st.Error)

	// terminal records are frozen
	tr.AddTransactions(10)
	tr.Complete("x.csv")
	assert.Equal(t, st, tr.Snapshot())
}

func TestSubscribeReceivesUntilTerminal(t *testing.T) {
	tr := NewTracker("job", KindExport, []string{"0xa"}, 0)
	ch, cancel := tr.Subscribe()
	defer cancel()

	first := <-ch
	assert.Equal(t, StateRunning, first.Status)

	tr.PageFetched("0xa", 1, 7)
	tr.Complete("out.csv")

	var last Status
	for st := range ch {
		last = st
	}
	assert.Equal(t, StateCompleted, last.Status)
	assert.Equal(t, 7, last.TotalTransactions)
}

type memSink struct {
	mu  sync.Mutex
	all []Status
}

func (m *memSink) Write(_ context.Context, st Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = append(m.all, st)
	return nil
}

func waitTerminal(t *testing.T, m *Manager, id string) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		var err error
		st, err = m.Get(context.Background(), id)
		return err == nil && st.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestManagerRunsJobsIndependently(t *testing.T) {
	sink := &memSink{}
	m := NewManager(context.Background(), Opts{Workers: 2, Sinks: []Sink{sink}, Logger: zaptest.NewLogger(t)})
	defer m.Stop()

	ok, err := m.Submit(KindExport, []string{"0xa"}, 0, func(ctx context.Context, tr *Tracker) error {
		tr.AddTransactions(3)
		tr.Complete("a.csv")
		return nil
	})
	require.NoError(t, err)
	bad, err := m.Submit(KindExport, []string{"0xb"}, 0, func(ctx context.Context, tr *Tracker) error {
		return errors.New("No transactions found for address 0xb")
	})
	require.NoError(t, err)
	assert.NotEqual(t, ok.ID(), bad.ID())

	okSt := waitTerminal(t, m, ok.ID())
	badSt := waitTerminal(t, m, bad.ID())
	assert.Equal(t, StateCompleted, okSt.Status)
	assert.Equal(t, "a.csv", okSt.OutputFile)
	assert.Equal(t, 3, okSt.TotalTransactions)
	assert.Equal(t, StateError, badSt.Status)
	assert.Equal(t, "No transactions found for address 0xb", badSt.Error)

	sink.mu.Lock()
	assert.NotEmpty(t, sink.all)
	sink.mu.Unlock()
	assert.Len(t, m.List(), 2)
}

func TestManagerCancel(t *testing.T) {
	m := NewManager(context.Background(), Opts{Workers: 1})
	defer m.Stop()

	started := make(chan struct{})
	tr, err := m.Submit(KindExport, []string{"0xa"}, 0, func(ctx context.Context, tr *Tracker) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started
	require.NoError(t, m.Cancel(tr.ID()))

	st := waitTerminal(t, m, tr.ID())
	assert.Equal(t, StateError, st.Status)
	assert.Equal(t, "job cancelled", st.Error)
	assert.ErrorIs(t, m.Cancel("missing"), ErrNotFound)
}

func TestManagerTimeout(t *testing.T) {
	m := NewManager(context.Background(), Opts{Workers: 1, Timeout: 20 * time.Millisecond})
	defer m.Stop()

	tr, err := m.Submit(KindYield, []string{"0xclny"}, 0, func(ctx context.Context, tr *Tracker) error {
		<-ctx.Done()
		return nil
	})
	require.NoError(t, err)
	st := waitTerminal(t, m, tr.ID())
	assert.Equal(t, "job timed out", st.Error)
}

func TestManagerRecoversPanics(t *testing.T) {
	m := NewManager(context.Background(), Opts{Workers: 1})
	defer m.Stop()
	tr, err := m.Submit(KindExport, []string{"0xa"}, 0, func(ctx context.Context, tr *Tracker) error {
		panic("boom")
	})
	require.NoError(t, err)
	st := waitTerminal(t, m, tr.ID())
	assert.Contains(t, st.Error, "job panicked")
}

func TestManagerLatestAndFileFallback(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(map[Kind]string{KindExport: dir})
	m := NewManager(context.Background(), Opts{Workers: 1, Sinks: []Sink{sink}})

	_, found := m.Latest(KindExport)
	assert.False(t, found)

	tr, err := m.Submit(KindExport, []string{"0xa"}, 0, func(ctx context.Context, tr *Tracker) error { return nil })
	require.NoError(t, err)
	waitTerminal(t, m, tr.ID())

	latest, found := m.Latest(KindExport)
	assert.True(t, found)
	assert.Equal(t, tr.ID(), latest.JobID)
	m.Stop()

	onDisk, ok := sink.Read(KindExport)
	require.True(t, ok)
	assert.Equal(t, tr.ID(), onDisk.JobID)
	assert.Equal(t, StateCompleted, onDisk.Status)
	assert.Equal(t, filepath.Join(dir, "export_status.json"), sink.Path(KindExport))

	// a fresh manager only knows the job through the status file
	fresh := NewManager(context.Background(), Opts{Sinks: []Sink{sink}})
	defer fresh.Stop()
	st, err := fresh.Get(context.Background(), tr.ID())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, st.Status)

	_, err = fresh.Get(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerSubmitAfterStop(t *testing.T) {
	m := NewManager(context.Background(), Opts{})
	m.Stop()
	_, err := m.Submit(KindExport, []string{"0xa"}, 0, func(ctx context.Context, tr *Tracker) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestManagerPrune(t *testing.T) {
	m := NewManager(context.Background(), Opts{})
	defer m.Stop()
	tr := m.Start(KindExport, []string{"0xa"}, 0)
	tr.Complete("")
	assert.Equal(t, 0, m.Prune(time.Hour))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, m.Prune(time.Millisecond))
	_, ok := m.Tracker(tr.ID())
	assert.False(t, ok)
}
