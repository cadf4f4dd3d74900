package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tidemark-io/tidemark/internal/safe"
)

const (
	// DefaultDir is the per-user state directory name.
	DefaultDir = ".tidemark"

	// identityFile holds the persisted identity and session keys.
	identityFile = "identity.yaml"
)

// DefaultPath resolves the identity file location:
//  1. TIDEMARK_DIR environment variable.
//  2. User home directory (~/.tidemark).
//  3. Temp-dir fallback for containerized environments without a home dir.
//
// The fallback is never an error: identity degrades to per-boot stability
// rather than blocking startup.
func DefaultPath() string {
	if dir := os.Getenv("TIDEMARK_DIR"); dir != "" {
		return filepath.Join(dir, identityFile)
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, DefaultDir, identityFile)
	}

	return filepath.Join(os.TempDir(), DefaultDir, identityFile)
}

// FileStore persists keys in a single YAML document, rewritten atomically
// (temp file + rename) on every update. The file carries 0600 permissions
// since identifiers are user-correlating data.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at path. The file and its
// parent directory are created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get returns the stored value for key, or ErrNotFound.
func (s *FileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", err
	}

	value, ok := data[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set writes key to durable storage. An unreadable or corrupt document is
// replaced with a fresh one so a bad file cannot wedge writes forever.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		data = make(map[string]string)
	}

	data[key] = value
	return s.save(data)
}

// Delete removes key from durable storage. Absent keys are a no-op.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		data = make(map[string]string)
	}

	if _, ok := data[key]; !ok {
		return nil
	}

	delete(data, key)
	return s.save(data)
}

// load reads the current document. A missing file yields an empty map.
func (s *FileStore) load() (map[string]string, error) {
	raw, err := safe.ReadFile(s.path, nil)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	data := make(map[string]string)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return data, nil
}

// save writes the document atomically: marshal to a temp file in the same
// directory, then rename over the target so readers never observe a
// partial write.
func (s *FileStore) save(data map[string]string) error {
	raw, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal identity data: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, identityFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
