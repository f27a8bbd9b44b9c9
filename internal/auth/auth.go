package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	// ErrSignInInProgress is returned when a second sign-in is started
	// before the first one finishes its browser round-trip.
	ErrSignInInProgress = errors.New("sign-in already in progress")

	// ErrNotSignedIn is returned when an operation needs a token and none
	// is stored.
	ErrNotSignedIn = errors.New("not signed in")
)

// signInTimeout bounds the browser round-trip.
const signInTimeout = 3 * time.Minute

// Status describes the current account session for the UI.
type Status struct {
	LoggedIn bool   `json:"logged_in"`
	Email    string `json:"email,omitempty"`
}

// Manager owns the Google OAuth token lifecycle: browser sign-in, token
// persistence, transparent refresh, and sign-out.
type Manager struct {
	logger *zap.Logger
	creds  *CredentialSource
	store  TokenStore

	// env drives the consent URL round-trip. Defaults to the system browser.
	env Env

	// signingIn prevents concurrent sign-in flows.
	signingIn uint32

	// session holds the in-flight sign-in, if any.
	session *oauthSession

	mu    sync.Mutex
	email string
}

type oauthSession struct {
	oauth2.Config

	// CodeC receives the authorization code from the redirect handler.
	CodeC chan authorizationCode

	// State protects the flow against CSRF.
	State string
}

type authorizationCode struct {
	Value string
	Err   error
}

func newOAuthSession(cfg oauth2.Config) *oauthSession {
	return &oauthSession{
		Config: cfg,
		CodeC:  make(chan authorizationCode, 1),
		State:  genState(),
	}
}

func (s *oauthSession) AuthCodeURL() string {
	return s.Config.AuthCodeURL(s.State, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *oauthSession) WaitForCodeAndState(ctx context.Context) (string, string, error) {
	select {
	case result := <-s.CodeC:
		return result.Value, s.State, result.Err
	case <-ctx.Done():
		return "", s.State, ctx.Err()
	}
}

type Opts func(*Manager)

func WithEnv(env Env) Opts {
	return func(m *Manager) {
		m.env = env
	}
}

// NewManager creates a Manager over the given credential source and token store.
func NewManager(logger *zap.Logger, creds *CredentialSource, store TokenStore, opts ...Opts) *Manager {
	m := &Manager{
		logger: logger,
		creds:  creds,
		store:  store,
	}
	for _, f := range opts {
		f(m)
	}
	return m
}

// CredentialsAvailable reports whether an OAuth client secret can be resolved.
func (m *Manager) CredentialsAvailable(ctx context.Context) bool {
	return m.creds.Available(ctx)
}

// LoggedIn reports whether a usable token is stored. An expired token with a
// refresh token still counts; it will be refreshed on first use.
func (m *Manager) LoggedIn() bool {
	tok, err := m.store.Load()
	if err != nil {
		return false
	}
	return tok.Valid() || tok.RefreshToken != ""
}

// Status returns the session state for the UI.
func (m *Manager) Status() Status {
	logged := m.LoggedIn()
	s := Status{LoggedIn: logged}
	if logged {
		s.Email = m.Email()
	}
	return s
}

// Email returns the cached account email (empty until first profile lookup).
func (m *Manager) Email() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.email
}

// SetEmail caches the account email after a profile lookup.
func (m *Manager) SetEmail(email string) {
	m.mu.Lock()
	m.email = email
	m.mu.Unlock()
}

// SigningIn reports whether a sign-in flow is currently in flight.
func (m *Manager) SigningIn() bool {
	return atomic.LoadUint32(&m.signingIn) == 1
}

// SignIn runs the browser OAuth flow: a loopback listener receives the
// redirect, the code is exchanged, and the token is persisted.
func (m *Manager) SignIn(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&m.signingIn, 0, 1) {
		return ErrSignInInProgress
	}
	defer atomic.StoreUint32(&m.signingIn, 0)

	cfg, err := m.creds.OAuthConfig(ctx)
	if err != nil {
		return err
	}

	m.session = newOAuthSession(*cfg)

	env := m.env
	if env == nil {
		env = &desktopEnv{Session: m.session}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("start redirect listener: %w", err)
	}
	defer func() { _ = ln.Close() }()

	serverAddr, serverErrC := m.serveHTTP(ln)

	// The redirect URL carries a dynamically assigned port.
	m.session.RedirectURL = serverAddr

	url := m.session.AuthCodeURL()
	m.logger.Debug("auth.consent_url", zap.String("url", url))

	if err := env.RequestCode(url, m.session.State); err != nil {
		m.logger.Warn("auth.request_code_failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, signInTimeout)
	defer cancel()

	go func() {
		if serr := <-serverErrC; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			m.logger.Warn("auth.redirect_server_failed", zap.Error(serr))
			cancel()
		}
	}()

	code, _, err := env.WaitForCodeAndState(ctx)
	if err != nil {
		return fmt.Errorf("wait for authorization code: %w", err)
	}

	tok, err := m.session.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	if err := m.store.Save(tok); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}

	m.SetEmail("") // refetched on next profile lookup
	m.logger.Info("auth.sign_in_success", zap.String("token_path", m.store.Path()))
	return nil
}

// SignOut removes the stored token and forgets the cached account email.
func (m *Manager) SignOut() error {
	if err := m.store.Delete(); err != nil {
		return fmt.Errorf("remove token: %w", err)
	}
	m.SetEmail("")
	m.logger.Info("auth.sign_out")
	return nil
}

// HTTPClient returns an authenticated client whose token source persists
// refreshed tokens back to the store.
func (m *Manager) HTTPClient(ctx context.Context) (*http.Client, error) {
	cfg, err := m.creds.OAuthConfig(ctx)
	if err != nil {
		return nil, err
	}

	tok, err := m.store.Load()
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotSignedIn
	}
	if err != nil {
		return nil, err
	}

	src := &persistingTokenSource{
		src:    cfg.TokenSource(ctx, tok),
		store:  m.store,
		last:   tok.AccessToken,
		logger: m.logger,
	}
	return oauth2.NewClient(ctx, src), nil
}

// Refresh proactively renews the stored token when it is close to expiry, so
// a scan never stalls mid-flight on a refresh round-trip.
func (m *Manager) Refresh(ctx context.Context) error {
	tok, err := m.store.Load()
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if tok.RefreshToken == "" {
		return nil
	}
	if tok.Valid() && time.Until(tok.Expiry) > 10*time.Minute {
		return nil
	}

	cfg, err := m.creds.OAuthConfig(ctx)
	if err != nil {
		return err
	}

	fresh, err := cfg.TokenSource(ctx, tok).Token()
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if fresh.AccessToken == tok.AccessToken {
		return nil
	}

	if err := m.store.Save(fresh); err != nil {
		return fmt.Errorf("persist refreshed token: %w", err)
	}
	m.logger.Info("auth.token_refreshed", zap.Time("expiry", fresh.Expiry))
	return nil
}

func (m *Manager) serveHTTP(ln net.Listener) (string, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/", http.HandlerFunc(m.callbackHandler))

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)

	go func() {
		if err := server.Serve(ln); err != nil {
			errc <- err
		}
	}()

	return fmt.Sprintf("http://%s", ln.Addr().String()), errc
}

func (m *Manager) callbackHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if state != m.session.State {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid state received from the identity provider."))
		return
	}

	if code == "" {
		go func() {
			m.session.CodeC <- authorizationCode{Err: errors.New(`missing "code" query string parameter`)}
		}()
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`Missing "code" query string parameter.`))
		return
	}

	go func() {
		m.session.CodeC <- authorizationCode{Value: code}
	}()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<h3>Signed in.</h3><p>You can close this tab and return to mailsweep.</p>"))
}

// persistingTokenSource writes refreshed tokens back to the store so the next
// process start does not need a new consent round-trip.
type persistingTokenSource struct {
	mu     sync.Mutex
	src    oauth2.TokenSource
	store  TokenStore
	last   string
	logger *zap.Logger
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.store.Save(tok); err != nil {
			p.logger.Warn("auth.persist_refreshed_token_failed", zap.Error(err))
		} else {
			p.last = tok.AccessToken
		}
	}
	return tok, nil
}

func genState() string {
	stateBytes := [8]byte{}
	_, _ = rand.Read(stateBytes[:])
	return hex.EncodeToString(stateBytes[:])
}
