// internal/state/profile.go

// Package state provides filesystem-backed storage implementations.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/lifeline/internal/types"
)

// ProfileStore is a JSON-file-backed store for per-user client preferences:
// chosen role, disaster, and the case or assignment the user last opened.
// The session-configuration object handed to the engine is built from this;
// nothing inside the engine reads it.
type ProfileStore struct {
	root string
	mu   sync.RWMutex
}

// Compile-time interface compliance check.
var _ types.ProfileStore = (*ProfileStore)(nil)

// NewProfileStore creates a file-backed ProfileStore rooted at the given
// directory.
func NewProfileStore(root string) *ProfileStore {
	return &ProfileStore{root: root}
}

func (s *ProfileStore) path() string {
	return filepath.Join(s.root, "profiles.json")
}

// load reads profiles.json and returns a map keyed by profile key.
func (s *ProfileStore) load() (map[string]*types.Profile, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*types.Profile), nil
		}
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var profiles map[string]*types.Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("unmarshal profiles: %w", err)
	}
	return profiles, nil
}

// save marshals with indentation and writes atomically.
func (s *ProfileStore) save(profiles map[string]*types.Profile) error {
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp profiles: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp profiles: %w", err)
	}
	return nil
}

// Get returns the profile stored under key, or nil if none exists.
func (s *ProfileStore) Get(_ context.Context, key string) (*types.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles, err := s.load()
	if err != nil {
		return nil, err
	}
	return profiles[key], nil
}

// Put stores the profile under key, replacing any previous value.
func (s *ProfileStore) Put(_ context.Context, key string, p *types.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.load()
	if err != nil {
		return err
	}
	profiles[key] = p
	return s.save(profiles)
}
