package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zero-network/txexporter/pkg/utils"
)

// Sink receives every status update. Sinks are best-effort; errors are logged by the Manager.
type Sink interface {
	Write(ctx context.Context, st Status) error
}

// Lookup is implemented by sinks that can serve statuses the in-memory registry no longer holds.
type Lookup interface {
	Lookup(ctx context.Context, id string) (Status, bool)
}

// FileSink persists the latest status per kind as JSON, e.g. exports/export_status.json.
type FileSink struct {
	mu    sync.Mutex
	paths map[Kind]string
}

// NewFileSink maps each kind to the directory its <kind>_status.json lives in.
func NewFileSink(dirs map[Kind]string) *FileSink {
	paths := make(map[Kind]string, len(dirs))
	for k, dir := range dirs {
		paths[k] = filepath.Join(dir, string(k)+"_status.json")
	}
	return &FileSink{paths: paths}
}

// Path returns the status file for kind, or "" when the kind is not persisted.
func (f *FileSink) Path(kind Kind) string {
	return f.paths[kind]
}

func (f *FileSink) Write(_ context.Context, st Status) error {
	path, ok := f.paths[st.Kind]
	if !ok {
		return nil
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return utils.WriteFileAtomic(path, data, 0o644)
}

// Read returns the persisted status for kind.
func (f *FileSink) Read(kind Kind) (Status, bool) {
	path, ok := f.paths[kind]
	if !ok {
		return Status{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, false
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, false
	}
	if st.Kind == "" {
		st.Kind = kind
	}
	return st, true
}

func (f *FileSink) Lookup(_ context.Context, id string) (Status, bool) {
	for kind := range f.paths {
		if st, ok := f.Read(kind); ok && st.JobID == id {
			return st, true
		}
	}
	return Status{}, false
}
