package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zero-network/txexporter/pkg/observability"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("job manager stopped")
)

// Func is the body of a background job. Returning an error fails the job unless it already finished.
type Func func(ctx context.Context, t *Tracker) error

// Opts configures a Manager.
type Opts struct {
	Workers int
	Timeout time.Duration // 0 disables the per-job deadline
	Sinks   []Sink
	Logger  *zap.Logger
}

type entry struct {
	tracker *Tracker
	cancel  context.CancelFunc
}

// Manager runs jobs on a bounded worker pool and keeps a registry of their trackers by id.
type Manager struct {
	logger  *zap.Logger
	pool    pond.Pool
	jobs    *xsync.MapOf[string, *entry]
	latest  *xsync.MapOf[Kind, string]
	sinks   []Sink
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a Manager whose jobs are children of ctx.
func NewManager(ctx context.Context, o Opts) *Manager {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	mctx, cancel := context.WithCancel(ctx)
	return &Manager{
		logger:  o.Logger,
		pool:    pond.NewPool(o.Workers),
		jobs:    xsync.NewMapOf[string, *entry](),
		latest:  xsync.NewMapOf[Kind, string](),
		sinks:   o.Sinks,
		timeout: o.Timeout,
		ctx:     mctx,
		cancel:  cancel,
	}
}

// Start registers a running job without scheduling any work. Callers drive the tracker themselves.
func (m *Manager) Start(kind Kind, addresses []string, maxPages int) *Tracker {
	id := uuid.NewString()
	t := newTracker(id, kind, addresses, maxPages, m.publish)
	m.jobs.Store(id, &entry{tracker: t, cancel: func() {}})
	m.latest.Store(kind, id)
	m.publish(t.Snapshot())
	return t
}

// Submit registers a job and runs fn on the pool with its own cancellable context.
func (m *Manager) Submit(kind Kind, addresses []string, maxPages int, fn Func) (*Tracker, error) {
	if m.ctx.Err() != nil {
		return nil, ErrStopped
	}

	id := uuid.NewString()
	t := newTracker(id, kind, addresses, maxPages, m.publish)

	jobCtx, cancel := context.WithCancel(m.ctx)
	if m.timeout > 0 {
		jobCtx, cancel = context.WithTimeout(m.ctx, m.timeout)
	}
	m.jobs.Store(id, &entry{tracker: t, cancel: cancel})
	m.latest.Store(kind, id)
	m.publish(t.Snapshot())

	observability.JobsRunning.WithLabelValues(string(kind)).Inc()
	err := m.pool.Go(func() {
		defer cancel()
		m.run(jobCtx, kind, t, fn)
	})
	if err != nil {
		cancel()
		observability.JobsRunning.WithLabelValues(string(kind)).Dec()
		t.Fail(fmt.Errorf("schedule job: %w", err))
		return t, ErrStopped
	}
	m.logger.Info("Job submitted",
		zap.String("job_id", id),
		zap.String("kind", string(kind)),
		zap.Int("addresses", len(addresses)))
	return t, nil
}

func (m *Manager) run(ctx context.Context, kind Kind, t *Tracker, fn Func) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Job panicked", zap.String("job_id", t.ID()), zap.Any("panic", r))
			t.Fail(fmt.Errorf("job panicked: %v", r))
		}
		st := t.Snapshot()
		observability.JobsRunning.WithLabelValues(string(kind)).Dec()
		observability.JobsTotal.WithLabelValues(string(kind), string(st.Status)).Inc()
		observability.JobDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
		m.logger.Info("Job finished",
			zap.String("job_id", st.JobID),
			zap.String("kind", string(kind)),
			zap.String("status", string(st.Status)),
			zap.Int("transactions", st.TotalTransactions),
			zap.String("error", st.Error),
			zap.Duration("took", time.Since(started)))
	}()

	err := fn(ctx, t)
	if ctxErr := ctx.Err(); err == nil && ctxErr != nil {
		err = ctxErr
	}
	if err != nil {
		t.Fail(err)
		return
	}
	t.Complete("")
}

// publish fans a snapshot out to every sink.
func (m *Manager) publish(st Status) {
	for _, s := range m.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.Write(ctx, st); err != nil {
			m.logger.Warn("Failed to persist job status",
				zap.String("job_id", st.JobID),
				zap.String("sink", fmt.Sprintf("%T", s)),
				zap.Error(err))
		}
		cancel()
	}
}

// Tracker returns the live tracker for id.
func (m *Manager) Tracker(id string) (*Tracker, bool) {
	e, ok := m.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return e.tracker, true
}

// Get returns the status for id, falling back to sinks that can look it up.
func (m *Manager) Get(ctx context.Context, id string) (Status, error) {
	if e, ok := m.jobs.Load(id); ok {
		return e.tracker.Snapshot(), nil
	}
	for _, s := range m.sinks {
		if l, ok := s.(Lookup); ok {
			if st, found := l.Lookup(ctx, id); found {
				return st, nil
			}
		}
	}
	return Status{}, ErrNotFound
}

// Latest returns the most recently started job of kind.
func (m *Manager) Latest(kind Kind) (Status, bool) {
	id, ok := m.latest.Load(kind)
	if !ok {
		return Idle(kind), false
	}
	e, ok := m.jobs.Load(id)
	if !ok {
		return Idle(kind), false
	}
	return e.tracker.Snapshot(), true
}

// List returns a snapshot of every registered job.
func (m *Manager) List() []Status {
	out := make([]Status, 0, m.jobs.Size())
	m.jobs.Range(func(_ string, e *entry) bool {
		out = append(out, e.tracker.Snapshot())
		return true
	})
	return out
}

// Cancel cancels a running job. Cancelling a finished job is a no-op.
func (m *Manager) Cancel(id string) error {
	e, ok := m.jobs.Load(id)
	if !ok {
		return ErrNotFound
	}
	e.cancel()
	m.logger.Info("Job cancel requested", zap.String("job_id", id))
	return nil
}

// Subscribe streams snapshots of job id until it finishes.
func (m *Manager) Subscribe(id string) (<-chan Status, func(), error) {
	e, ok := m.jobs.Load(id)
	if !ok {
		return nil, nil, ErrNotFound
	}
	ch, cancel := e.tracker.Subscribe()
	return ch, cancel, nil
}

// Prune drops finished jobs older than maxAge from the registry.
func (m *Manager) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	n := 0
	m.jobs.Range(func(id string, e *entry) bool {
		st := e.tracker.Snapshot()
		if st.Terminal() && st.EndTime != nil && st.EndTime.Before(cutoff) {
			m.jobs.Delete(id)
			n++
		}
		return true
	})
	return n
}

// Stop cancels running jobs and waits for the pool to drain.
func (m *Manager) Stop() {
	m.cancel()
	m.pool.StopAndWait()
}
