package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/store"
	"github.com/mailsweep/mailsweep/pkg/model"
)

type fakeAccount struct {
	mu    sync.Mutex
	email string
}

func (f *fakeAccount) Email() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.email
}

func (f *fakeAccount) SetEmail(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.email = email
}

type fakeMailbox struct {
	email    string
	messages map[string]gmail.MessageMeta
}

func (f *fakeMailbox) Profile(ctx context.Context) (string, error) {
	return f.email, nil
}

func (f *fakeMailbox) ListMessageIDs(ctx context.Context, query string, limit int64) ([]string, error) {
	ids := make([]string, 0, len(f.messages))
	for id := range f.messages {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeMailbox) MessageMetadata(ctx context.Context, id string) (gmail.MessageMeta, error) {
	meta, ok := f.messages[id]
	if !ok {
		return gmail.MessageMeta{}, errors.New("unknown message")
	}
	return meta, nil
}

func newsletter(id, from, subject, link string, oneClick bool) (string, gmail.MessageMeta) {
	headers := []gmail.Header{
		{Name: "From", Value: from},
		{Name: "Subject", Value: subject},
		{Name: "List-Unsubscribe", Value: "<" + link + ">"},
	}
	if oneClick {
		headers = append(headers, gmail.Header{Name: "List-Unsubscribe-Post", Value: "List-Unsubscribe=One-Click"})
	}
	return id, gmail.MessageMeta{ID: id, Headers: headers}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := store.NewHybrid(mr.Addr(), 0, "", "", store.PGPoolConfig{}, time.Hour, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func waitForScan(t *testing.T, s *Scanner) model.ScanStatus {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Status().Done
	}, 5*time.Second, 10*time.Millisecond)
	return s.Status()
}

func TestScanAggregatesSenders(t *testing.T) {
	mb := &fakeMailbox{email: "user@example.com", messages: map[string]gmail.MessageMeta{}}
	for i, spec := range []struct {
		from, subject, link string
		oneClick            bool
	}{
		{`"Acme News" <news@acme.example>`, "Deals 1", "https://acme.example/u1", false},
		{`"Acme News" <news@acme.example>`, "Deals 2", "https://acme.example/u2", true},
		{`"Acme News" <news@acme.example>`, "Deals 3", "https://acme.example/u3", false},
		{`"Shop" <promo@shop.example>`, "Sale", "https://shop.example/u", false},
	} {
		id, meta := newsletter(string(rune('a'+i)), spec.from, spec.subject, spec.link, spec.oneClick)
		mb.messages[id] = meta
	}
	// A message without List-Unsubscribe is ignored.
	mb.messages["z"] = gmail.MessageMeta{ID: "z", Headers: []gmail.Header{
		{Name: "From", Value: "friend@people.example"},
		{Name: "Subject", Value: "lunch?"},
	}}

	account := &fakeAccount{}
	st := newTestStore(t)
	s := New(zap.NewNop(), func(ctx context.Context) (gmail.Mailbox, error) {
		return mb, nil
	}, account, st, nil, 4, 500, 2000, context.Background())

	require.NoError(t, s.Start("", 100))
	status := waitForScan(t, s)
	require.Empty(t, status.Error)
	require.Equal(t, 100, status.Progress)

	senders := s.Results(context.Background())
	require.Len(t, senders, 2)

	// Sorted by count descending.
	require.Equal(t, "acme.example", senders[0].Domain)
	require.Equal(t, 3, senders[0].Count)
	require.Equal(t, model.ModeOneClick, senders[0].Mode)
	require.Equal(t, "https://acme.example/u2", senders[0].Link)
	require.Len(t, senders[0].Subjects, 3)

	require.Equal(t, "shop.example", senders[1].Domain)
	require.Equal(t, 1, senders[1].Count)
	require.Equal(t, model.ModeManual, senders[1].Mode)

	require.Equal(t, "user@example.com", account.Email())

	// Snapshot lands in the store.
	snap, err := st.GetScanSnapshot(context.Background(), "user@example.com")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, 5, snap.Scanned)
}

func TestScanRejectsConcurrentStart(t *testing.T) {
	block := make(chan struct{})
	s := New(zap.NewNop(), func(ctx context.Context) (gmail.Mailbox, error) {
		<-block
		return nil, errors.New("not signed in")
	}, &fakeAccount{}, nil, nil, 1, 100, 100, context.Background())

	require.NoError(t, s.Start("", 10))
	require.ErrorIs(t, s.Start("", 10), ErrScanRunning)

	close(block)
	waitForScan(t, s)
}

func TestScanFactoryFailureSurfaces(t *testing.T) {
	s := New(zap.NewNop(), func(ctx context.Context) (gmail.Mailbox, error) {
		return nil, errors.New("not signed in")
	}, &fakeAccount{}, nil, nil, 1, 100, 100, context.Background())

	require.NoError(t, s.Start("", 10))
	status := waitForScan(t, s)
	require.Contains(t, status.Error, "not signed in")

	// Failed scans release the lock.
	require.NoError(t, s.Start("", 10))
	waitForScan(t, s)
}

func TestResultsFallBackToSnapshot(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveScanSnapshot(ctx, model.ScanSnapshot{
		AccountEmail: "user@example.com",
		Senders:      []model.Sender{{Domain: "old.example", Count: 7}},
	}))

	account := &fakeAccount{email: "user@example.com"}
	s := New(zap.NewNop(), nil, account, st, nil, 1, 100, 100, ctx)

	senders := s.Results(ctx)
	require.Len(t, senders, 1)
	require.Equal(t, "old.example", senders[0].Domain)
}

// slowMailbox delays metadata fetches so workers overlap.
type slowMailbox struct {
	*fakeMailbox
	delay time.Duration
}

func (s *slowMailbox) MessageMetadata(ctx context.Context, id string) (gmail.MessageMeta, error) {
	time.Sleep(s.delay)
	return s.fakeMailbox.MessageMetadata(ctx, id)
}

func TestScanProgressNeverRegresses(t *testing.T) {
	mb := &fakeMailbox{email: "user@example.com", messages: map[string]gmail.MessageMeta{}}
	for i := 0; i < 60; i++ {
		id, meta := newsletter(fmt.Sprintf("m%02d", i),
			`"Acme News" <news@acme.example>`, "Deals", "https://acme.example/u", false)
		mb.messages[id] = meta
	}
	slow := &slowMailbox{fakeMailbox: mb, delay: time.Millisecond}

	s := New(zap.NewNop(), func(ctx context.Context) (gmail.Mailbox, error) {
		return slow, nil
	}, &fakeAccount{}, nil, nil, 8, 500, 2000, context.Background())

	require.NoError(t, s.Start("", 100))

	deadline := time.Now().Add(5 * time.Second)
	last := 0
	for {
		st := s.Status()
		require.GreaterOrEqual(t, st.Progress, last, "progress went backwards")
		last = st.Progress
		if st.Done {
			break
		}
		require.True(t, time.Now().Before(deadline), "scan did not finish in time")
		time.Sleep(time.Millisecond)
	}
	require.Empty(t, s.Status().Error)
}

func TestResetDuringScanCancelsIt(t *testing.T) {
	started := make(chan struct{}, 1)
	s := New(zap.NewNop(), func(ctx context.Context) (gmail.Mailbox, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}, &fakeAccount{}, nil, nil, 1, 100, 100, context.Background())

	require.NoError(t, s.Start("", 10))
	<-started

	s.Reset()

	// The canceled scan unwinds and its state is cleared, not left behind
	// as a failed scan for the signed-out session.
	require.Eventually(t, func() bool {
		return s.Status() == (model.ScanStatus{})
	}, 5*time.Second, 10*time.Millisecond)
	require.Nil(t, s.Results(context.Background()))
}

func TestResetClearsState(t *testing.T) {
	s := New(zap.NewNop(), func(ctx context.Context) (gmail.Mailbox, error) {
		return &fakeMailbox{email: "user@example.com"}, nil
	}, &fakeAccount{}, nil, nil, 1, 100, 100, context.Background())

	require.NoError(t, s.Start("", 10))
	waitForScan(t, s)

	s.Reset()
	require.Zero(t, s.Status())
	require.Nil(t, s.Results(context.Background()))
}
