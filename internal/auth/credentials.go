package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mailsweep/mailsweep/pkg/secrets"
)

// ErrNoCredentials means no OAuth client secret could be located. The
// operator needs to supply credentials.json (or the env/secret equivalents).
var ErrNoCredentials = errors.New("google client credentials not found: provide credentials.json, GOOGLE_CREDENTIALS, or CREDENTIALS_SECRET_ID")

// secretJSONKey is the map key the client secret JSON is stored under in
// Secrets Manager (secrets are JSON maps, see pkg/secrets).
const secretJSONKey = "credentials_json"

// CredentialSource resolves the Google OAuth client secret ("installed app"
// JSON) from, in order: inline JSON, a file on disk, AWS Secrets Manager.
type CredentialSource struct {
	inline   string
	file     string
	secretID string
	provider secrets.Provider
	cache    *secrets.Cache[[]byte]
	scopes   []string
}

// NewCredentialSource builds a resolver. provider may be nil when no secret
// ID is configured.
func NewCredentialSource(inline, file, secretID string, provider secrets.Provider, scopes ...string) *CredentialSource {
	return &CredentialSource{
		inline:   inline,
		file:     file,
		secretID: secretID,
		provider: provider,
		cache:    secrets.NewCache[[]byte](30 * time.Minute),
		scopes:   scopes,
	}
}

func (c *CredentialSource) clientJSON(ctx context.Context) ([]byte, error) {
	if c.inline != "" {
		return []byte(c.inline), nil
	}

	if c.file != "" {
		data, err := os.ReadFile(c.file)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", c.file, err)
		}
	}

	if c.secretID != "" && c.provider != nil {
		if data, ok := c.cache.Get(c.secretID); ok {
			return data, nil
		}
		m, err := c.provider.GetSecret(ctx, c.secretID)
		if err != nil {
			return nil, fmt.Errorf("fetch client secret [%s]: %w", c.secretID, err)
		}
		raw, ok := m[secretJSONKey]
		if !ok {
			return nil, fmt.Errorf("secret [%s] has no %q key", c.secretID, secretJSONKey)
		}
		data := []byte(raw)
		c.cache.Put(c.secretID, data)
		return data, nil
	}

	return nil, ErrNoCredentials
}

// Available reports whether some credential source is configured and present.
func (c *CredentialSource) Available(ctx context.Context) bool {
	_, err := c.clientJSON(ctx)
	return err == nil
}

// OAuthConfig parses the client secret into an oauth2 config with the
// configured scopes.
func (c *CredentialSource) OAuthConfig(ctx context.Context) (*oauth2.Config, error) {
	data, err := c.clientJSON(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := google.ConfigFromJSON(data, c.scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client credentials: %w", err)
	}
	return cfg, nil
}
