package config

import (
	"sync"
	"sync/atomic"
)

// Store holds the current configuration and reloads it from disk. All methods
// are safe for concurrent use.
type Store struct {
	path string

	mu      sync.RWMutex
	current Config
	version atomic.Uint64
}

func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, current: cfg}
	s.version.Store(1)
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Version increases by one on every successful reload.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Reload re-reads the file. On error the current configuration is kept.
func (s *Store) Reload() (Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return s.Current(), err
	}

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	s.version.Add(1)
	return cfg, nil
}
