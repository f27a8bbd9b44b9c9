package unsubscribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailsweep/mailsweep/internal/httpclient"
	"github.com/mailsweep/mailsweep/pkg/model"
)

// httptest binds to loopback, which the real validator rejects on purpose.
func newTestUnsubscriber(t *testing.T) *Unsubscriber {
	t.Helper()
	exec := httpclient.New(zap.NewNop(), nil, &http.Client{Timeout: 5 * time.Second}, 1, "unsub")
	u := New(zap.NewNop(), exec, nil, nil)
	u.validate = func(ctx context.Context, raw string) error { return nil }
	return u
}

func TestAttemptOneClickPost(t *testing.T) {
	var gotMethod, gotBody, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := newTestUnsubscriber(t)
	out, err := u.Attempt(context.Background(), Request{
		AccountEmail: "user@example.com",
		Domain:       "news.example.com",
		Link:         srv.URL + "/unsub",
		Mode:         model.ModeOneClick,
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "List-Unsubscribe=One-Click", gotBody)
	require.Equal(t, "application/x-www-form-urlencoded", gotContentType)
}

func TestAttemptFallsBackToGet(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := newTestUnsubscriber(t)
	out, err := u.Attempt(context.Background(), Request{
		Domain: "news.example.com",
		Link:   srv.URL + "/unsub",
		Mode:   model.ModeOneClick,
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, []string{http.MethodPost, http.MethodGet}, methods)
}

func TestAttemptManualGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := newTestUnsubscriber(t)
	out, err := u.Attempt(context.Background(), Request{
		Domain: "shop.example.com",
		Link:   srv.URL + "/u",
		Mode:   model.ModeManual,
	})
	require.NoError(t, err)
	require.True(t, out.Success)
}

func TestAttemptEndpointRefuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	u := newTestUnsubscriber(t)
	out, err := u.Attempt(context.Background(), Request{
		Domain: "gone.example.com",
		Link:   srv.URL + "/u",
		Mode:   model.ModeManual,
	})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Contains(t, out.Message, "404")
}

func TestAttemptMailtoNeverFetched(t *testing.T) {
	u := newTestUnsubscriber(t)
	out, err := u.Attempt(context.Background(), Request{
		Domain: "list.example.com",
		Link:   "mailto:unsub@list.example.com",
		Mode:   model.ModeMailto,
	})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Contains(t, out.Message, "email client")
}

func TestAttemptUnsafeLinkBlocked(t *testing.T) {
	exec := httpclient.New(zap.NewNop(), nil, &http.Client{Timeout: time.Second}, 0, "unsub")
	u := New(zap.NewNop(), exec, nil, nil)

	out, err := u.Attempt(context.Background(), Request{
		Domain: "evil.example.com",
		Link:   "http://169.254.169.254/latest/meta-data",
		Mode:   model.ModeManual,
	})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Contains(t, out.Message, "unsafe unsubscribe link")
}

func TestAttemptMissingLink(t *testing.T) {
	u := newTestUnsubscriber(t)
	_, err := u.Attempt(context.Background(), Request{Domain: "x.example"})
	require.Error(t, err)
}
