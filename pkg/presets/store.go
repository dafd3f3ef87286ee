package presets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zero-network/txexporter/pkg/utils"
	"go.uber.org/zap"
)

// DefaultPath is where presets live unless PRESETS_FILE says otherwise.
const DefaultPath = "presets/export_presets.json"

// ErrNotFound is returned for unknown preset names.
var ErrNotFound = errors.New("preset not found")

// Store is a flat JSON file of name -> Preset.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewStore creates a Store backed by path.
func NewStore(path string, logger *zap.Logger) *Store {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Load reads every preset. A missing file is created empty; a corrupt file is logged and treated as empty.
func (s *Store) Load() (map[string]Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (map[string]Preset, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.write(map[string]Preset{}); err != nil {
			return nil, err
		}
		return map[string]Preset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	out := map[string]Preset{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Error("Error loading presets", zap.String("path", s.path), zap.Error(err))
		return map[string]Preset{}, nil
	}
	return out, nil
}

func (s *Store) write(all map[string]Preset) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create presets dir: %w", err)
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal presets: %w", err)
	}
	return utils.WriteFileAtomic(s.path, data, 0o644)
}

// Get returns one preset.
func (s *Store) Get(name string) (Preset, error) {
	all, err := s.Load()
	if err != nil {
		return Preset{}, err
	}
	p, ok := all[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// Save adds or replaces a preset.
func (s *Store) Save(name string, p Preset) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("preset name is required")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("preset %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return err
	}
	all[name] = p
	if err := s.write(all); err != nil {
		return err
	}
	s.logger.Info("Preset saved", zap.String("name", name))
	return nil
}

// Delete removes a preset.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := all[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(all, name)
	if err := s.write(all); err != nil {
		return err
	}
	s.logger.Info("Preset deleted", zap.String("name", name))
	return nil
}

// Names returns preset names in sorted order.
func (s *Store) Names() ([]string, error) {
	all, err := s.Load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
