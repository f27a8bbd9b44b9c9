package auth

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// ErrNotFound is returned when no token has been persisted yet.
var ErrNotFound = errors.New("token not found")

// TokenStore persists the Google OAuth token between runs.
// The token is never baked into a build artifact; the operator supplies or
// produces it at runtime and sign-out removes it.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
	Delete() error
	Path() string
}

// FileStore keeps the token as a single JSON file (token.json by default).
type FileStore struct {
	// Location is the token file path.
	Location string
}

var _ TokenStore = (*FileStore)(nil)

func (s *FileStore) Path() string { return s.Location }

func (s *FileStore) Load() (*oauth2.Token, error) {
	f, err := os.Open(s.Location)
	switch {
	case os.IsNotExist(err):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, 16*1024))
	if err != nil {
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *FileStore) Save(tok *oauth2.Token) error {
	if dir := filepath.Dir(s.Location); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(s.Location, data, 0o600)
}

func (s *FileStore) Delete() error {
	err := os.Remove(s.Location)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
