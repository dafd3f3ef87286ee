package jobs

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Tracker owns the status record of one job. It is safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	st   Status
	subs map[int]chan Status
	next int

	onUpdate func(Status)
}

func newTracker(id string, kind Kind, addresses []string, maxPages int, onUpdate func(Status)) *Tracker {
	now := time.Now().UTC()
	st := Status{
		JobID:          id,
		Kind:           kind,
		Status:         StateRunning,
		TotalAddresses: len(addresses),
		CurrentPage:    1,
		MaxPages:       maxPages,
		StartTime:      &now,
	}
	if len(addresses) > 0 {
		st.CurrentAddress = addresses[0]
	}
	if kind == KindYield {
		st.CurrentPage = 0
		st.TotalPages = defaultPages
	}
	st.Progress = computeProgress(st)
	return &Tracker{st: st, subs: map[int]chan Status{}, onUpdate: onUpdate}
}

// NewTracker creates a standalone tracker that is not registered with a Manager.
func NewTracker(id string, kind Kind, addresses []string, maxPages int) *Tracker {
	return newTracker(id, kind, addresses, maxPages, nil)
}

// ID returns the job id.
func (t *Tracker) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.JobID
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st
}

// update applies fn under the lock unless the job already finished, then fans the snapshot out.
func (t *Tracker) update(fn func(s *Status)) {
	t.mu.Lock()
	if t.st.Terminal() {
		t.mu.Unlock()
		return
	}
	fn(&t.st)
	t.st.Progress = computeProgress(t.st)
	if t.st.Terminal() && t.st.EndTime == nil {
		now := time.Now().UTC()
		t.st.EndTime = &now
	}
	snap := t.st
	for id, ch := range t.subs {
		select {
		case ch <- snap:
		default:
			// slow subscriber, drop the stale value and keep the newest
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
		if snap.Terminal() {
			close(ch)
			delete(t.subs, id)
		}
	}
	notify := t.onUpdate
	t.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
}

// SetAddress moves to another address. A change counts the previous one as processed.
func (t *Tracker) SetAddress(addr string) {
	t.update(func(s *Status) {
		if addr != "" && addr != s.CurrentAddress {
			s.CurrentAddress = addr
			s.ProcessedAddresses++
			s.CurrentPage = 1
		}
	})
}

func (t *Tracker) SetPage(page int) {
	t.update(func(s *Status) {
		if page > 0 {
			s.CurrentPage = page
		}
	})
}

// SetTotalPages sets the page estimate used by yield progress.
func (t *Tracker) SetTotalPages(n int) {
	t.update(func(s *Status) {
		if n > 0 {
			s.TotalPages = n
		}
	})
}

func (t *Tracker) AddTransactions(n int) {
	t.update(func(s *Status) {
		if n > 0 {
			s.TotalTransactions += n
		}
	})
}

func (t *Tracker) SetOutputFile(path string) {
	t.update(func(s *Status) {
		if path != "" {
			s.OutputFile = path
		}
	})
}

// Warn records a non-fatal error; the job keeps running.
func (t *Tracker) Warn(err error) {
	if err == nil {
		return
	}
	t.update(func(s *Status) { s.Error = err.Error() })
}

// Complete marks the job completed.
func (t *Tracker) Complete(outputFile string) {
	t.update(func(s *Status) {
		if outputFile != "" {
			s.OutputFile = outputFile
		}
		s.Status = StateCompleted
	})
}

// Fail marks the job failed with err.
func (t *Tracker) Fail(err error) {
	msg := "unknown error"
	switch {
	case errors.Is(err, context.Canceled):
		msg = "job cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		msg = "job timed out"
	case err != nil:
		msg = err.Error()
	}
	t.update(func(s *Status) {
		s.Status = StateError
		s.Error = msg
	})
}

// Subscribe returns a channel of snapshots, starting with the current one.
// The channel closes once the job reaches a terminal state or cancel is called.
func (t *Tracker) Subscribe() (<-chan Status, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Status, 8)
	ch <- t.st
	if t.st.Terminal() {
		close(ch)
		return ch, func() {}
	}
	id := t.next
	t.next++
	t.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[id]; ok {
				close(c)
				delete(t.subs, id)
			}
		})
	}
}

// The pager.Observer methods map pager events onto the status record.

func (t *Tracker) AddressStarted(_ int, address string)  { t.SetAddress(address) }
func (t *Tracker) PageStarted(page int)                  { t.SetPage(page) }
func (t *Tracker) PageFetched(_ string, _ int, kept int) { t.AddTransactions(kept) }
func (t *Tracker) AddressFailed(_ string, _ int, err error) {
	t.Warn(err)
}
