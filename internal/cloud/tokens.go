package cloud

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"rmcloud/internal/fileutil"
)

// TokenStore persists the device token in a single file.
type TokenStore struct {
	path string
}

// NewTokenStore returns a store backed by path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the token file location.
func (s *TokenStore) Path() string {
	return s.path
}

// Load returns the stored token or ErrNoToken.
func (s *TokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read device token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Save writes token with owner-only permissions.
func (s *TokenStore) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("refusing to save empty device token")
	}
	if err := fileutil.WriteFileAtomic(s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("save device token: %w", err)
	}
	return nil
}

// Delete removes the token file. A missing file is not an error.
func (s *TokenStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete device token: %w", err)
	}
	return nil
}

// Exists reports whether a non-empty token is stored.
func (s *TokenStore) Exists() bool {
	_, err := s.Load()
	return err == nil
}
