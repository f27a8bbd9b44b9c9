package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// testEnv skips the browser and answers with a canned authorization code.
type testEnv struct {
	state string
}

var _ Env = (*testEnv)(nil)

func (e *testEnv) RequestCode(url, state string) error {
	e.state = state
	return nil
}

func (e *testEnv) WaitForCodeAndState(context.Context) (string, string, error) {
	return "test-code-1", e.state, nil
}

func newOAuthServerMock(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "granted-access-token",
			"refresh_token": "granted-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	return httptest.NewServer(mux)
}

func installedAppJSON(srvURL string) string {
	return fmt.Sprintf(`{"installed":{
		"client_id":"test-client",
		"client_secret":"test-secret",
		"auth_uri":"%s/auth",
		"token_uri":"%s/token",
		"redirect_uris":["http://localhost"]
	}}`, srvURL, srvURL)
}

func newTestManager(t *testing.T, srvURL string) (*Manager, *FileStore) {
	t.Helper()
	store := &FileStore{Location: filepath.Join(t.TempDir(), "token.json")}
	creds := NewCredentialSource(installedAppJSON(srvURL), "", "", nil, "https://www.googleapis.com/auth/gmail.readonly")
	mgr := NewManager(zap.NewNop(), creds, store, WithEnv(&testEnv{}))
	return mgr, store
}

func TestSignInPersistsToken(t *testing.T) {
	srv := newOAuthServerMock(t)
	defer srv.Close()

	mgr, store := newTestManager(t, srv.URL)

	require.False(t, mgr.LoggedIn())
	require.NoError(t, mgr.SignIn(context.Background()))
	require.True(t, mgr.LoggedIn())

	tok, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "granted-access-token", tok.AccessToken)
	require.Equal(t, "granted-refresh-token", tok.RefreshToken)
}

func TestSignOutRemovesToken(t *testing.T) {
	srv := newOAuthServerMock(t)
	defer srv.Close()

	mgr, _ := newTestManager(t, srv.URL)
	require.NoError(t, mgr.SignIn(context.Background()))
	mgr.SetEmail("user@example.com")

	require.NoError(t, mgr.SignOut())
	require.False(t, mgr.LoggedIn())
	require.Empty(t, mgr.Email())

	st := mgr.Status()
	require.False(t, st.LoggedIn)
	require.Empty(t, st.Email)
}

// blockingEnv parks the flow at the code wait until released, standing in for
// a user who has not finished the browser consent yet.
type blockingEnv struct {
	release chan struct{}
}

var _ Env = (*blockingEnv)(nil)

func (e *blockingEnv) RequestCode(string, string) error { return nil }

func (e *blockingEnv) WaitForCodeAndState(ctx context.Context) (string, string, error) {
	select {
	case <-e.release:
		return "", "", context.Canceled
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

func TestSignInSingleFlight(t *testing.T) {
	srv := newOAuthServerMock(t)
	defer srv.Close()

	env := &blockingEnv{release: make(chan struct{})}
	store := &FileStore{Location: filepath.Join(t.TempDir(), "token.json")}
	creds := NewCredentialSource(installedAppJSON(srv.URL), "", "", nil)
	mgr := NewManager(zap.NewNop(), creds, store, WithEnv(env))

	errC := make(chan error, 1)
	go func() { errC <- mgr.SignIn(context.Background()) }()

	require.Eventually(t, mgr.SigningIn, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, mgr.SignIn(context.Background()), ErrSignInInProgress)

	close(env.release)
	require.Error(t, <-errC)
	require.False(t, mgr.SigningIn())
	require.False(t, mgr.LoggedIn())
}

func TestExpiredTokenWithoutRefreshReportsSignedOut(t *testing.T) {
	store := &FileStore{Location: filepath.Join(t.TempDir(), "token.json")}
	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Hour),
	}))

	mgr := NewManager(zap.NewNop(), NewCredentialSource("", "", "", nil), store)
	require.False(t, mgr.LoggedIn())

	st := mgr.Status()
	require.False(t, st.LoggedIn)
	require.Empty(t, st.Email)
}

func TestSignInWithoutCredentials(t *testing.T) {
	store := &FileStore{Location: filepath.Join(t.TempDir(), "token.json")}
	creds := NewCredentialSource("", filepath.Join(t.TempDir(), "credentials.json"), "", nil)
	mgr := NewManager(zap.NewNop(), creds, store, WithEnv(&testEnv{}))

	err := mgr.SignIn(context.Background())
	require.ErrorIs(t, err, ErrNoCredentials)
	require.False(t, mgr.CredentialsAvailable(context.Background()))
}

func TestStatusReportsEmail(t *testing.T) {
	srv := newOAuthServerMock(t)
	defer srv.Close()

	mgr, _ := newTestManager(t, srv.URL)
	require.NoError(t, mgr.SignIn(context.Background()))

	mgr.SetEmail("user@example.com")
	st := mgr.Status()
	require.True(t, st.LoggedIn)
	require.Equal(t, "user@example.com", st.Email)
}
