package authstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/autobrowse/internal/logger"
)

// CredentialsFile is the name of the credentials file inside a FileStore
// directory.
const CredentialsFile = "credentials.yaml"

// FileStore keeps one JSON file per profile in a directory. Writes replace
// the file atomically; concurrent writers are last-writer-wins.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create auth directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, name string) (*State, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", name, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", name, err)
	}
	return &st, nil
}

// Save implements Store. A zero SavedAt is stored as the current time;
// state itself is not modified.
func (s *FileStore) Save(_ context.Context, name string, state *State) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if state == nil {
		return errors.New("nil auth state")
	}
	stamped := *state
	if stamped.SavedAt.IsZero() {
		stamped.SavedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(stamped, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile %s: %w", name, err)
	}
	if err := writeFileAtomic(s.path(name), data); err != nil {
		return fmt.Errorf("failed to write profile %s: %w", name, err)
	}
	logger.Debug("auth profile saved", "profile", name, "cookies", len(state.Cookies), "origins", len(state.Origins))
	return nil
}

// HasValid implements Store.
func (s *FileStore) HasValid(ctx context.Context, name string, maxAge time.Duration) bool {
	st, err := s.Load(ctx, name)
	if err != nil {
		logger.Debug("auth profile unreadable", "profile", name, "error", err)
		return false
	}
	return st.Fresh(maxAge, time.Now())
}

// Credentials implements Store by reading credentials.yaml, a mapping of
// service name to credentials.
func (s *FileStore) Credentials(_ context.Context, service string) (Credentials, error) {
	all, err := s.readCredentials()
	if err != nil {
		return Credentials{}, err
	}
	c, ok := all[service]
	if !ok {
		return Credentials{}, fmt.Errorf("%w: %s", ErrNoCredentials, service)
	}
	return c, nil
}

// SetCredentials adds or replaces the credentials for service.
func (s *FileStore) SetCredentials(_ context.Context, service string, c Credentials) error {
	if err := ValidateName(service); err != nil {
		return err
	}
	all, err := s.readCredentials()
	if err != nil {
		return err
	}
	all[service] = c
	data, err := yaml.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, CredentialsFile), data)
}

func (s *FileStore) readCredentials() (map[string]Credentials, error) {
	all := map[string]Credentials{}
	data, err := os.ReadFile(filepath.Join(s.dir, CredentialsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := yaml.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if all == nil {
		all = map[string]Credentials{}
	}
	return all, nil
}

// Profiles lists the saved profile names.
func (s *FileStore) Profiles(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		names = append(names, base[:len(base)-len(".json")])
	}
	return names, nil
}

// writeFileAtomic writes to a temp file in the same directory and renames
// it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
