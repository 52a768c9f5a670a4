package dedup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/platinummonkey/bioviews/pkg/observability"
)

// MemoryStore keeps cooldown records for the life of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Get implements CooldownStore.
func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set implements CooldownStore.
func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// FileStore persists cooldown records as a JSON object in a single file, so a CLI
// visitor keeps its cooldowns across runs.
type FileStore struct {
	path   string
	logger *observability.Logger

	mu   sync.Mutex
	data map[string]string
}

// DefaultFilePath returns the per-user cooldown file location.
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "bioviews", "cooldowns.json"), nil
}

// OpenFileStore loads the store at path. A missing file starts empty; an unreadable or
// corrupt file is logged and also starts empty.
func OpenFileStore(path string, logger *observability.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cooldown dir: %w", err)
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	s := &FileStore{
		path:   path,
		logger: logger,
		data:   make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		logger.WithError(err).WithField("path", path).Warn("cooldown file unreadable, starting empty")
	default:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			logger.WithError(err).WithField("path", path).Warn("cooldown file corrupt, starting empty")
			s.data = make(map[string]string)
		}
		// a file holding null decodes without error into a nil map
		if s.data == nil {
			s.data = make(map[string]string)
		}
	}

	return s, nil
}

// Get implements CooldownStore.
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set implements CooldownStore. The file is rewritten atomically on every call.
func (s *FileStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	if err := s.persist(); err != nil {
		s.logger.WithError(err).WithField("path", s.path).Warn("failed to persist cooldown record")
	}
}

func (s *FileStore) persist() error {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cooldowns-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
