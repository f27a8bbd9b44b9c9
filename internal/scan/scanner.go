package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/metrics"
	"github.com/mailsweep/mailsweep/internal/publisher"
	"github.com/mailsweep/mailsweep/internal/store"
	"github.com/mailsweep/mailsweep/pkg/model"
)

// ErrScanRunning is returned when a scan is requested while one is active.
var ErrScanRunning = errors.New("a scan is already running")

const maxSubjectsPerSender = 3

// MailboxFactory builds an authenticated mailbox for the current session.
// It fails when the user is not signed in.
type MailboxFactory func(ctx context.Context) (gmail.Mailbox, error)

// EmailSetter receives the account email once the profile is known.
type EmailSetter interface {
	Email() string
	SetEmail(email string)
}

// Scanner walks the mailbox, aggregates newsletter senders per domain, and
// caches the result. One scan at a time.
type Scanner struct {
	logger       *zap.Logger
	factory      MailboxFactory
	account      EmailSetter
	store        store.Store
	pub          *publisher.Publisher
	workers      int
	defaultLimit int64
	maxLimit     int64
	appCtx       context.Context

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	resetPending bool
	status       model.ScanStatus
	results      []model.Sender
}

func New(
	logger *zap.Logger,
	factory MailboxFactory,
	account EmailSetter,
	st store.Store,
	pub *publisher.Publisher,
	workers int,
	defaultLimit, maxLimit int64,
	appCtx context.Context,
) *Scanner {
	if workers <= 0 {
		workers = 8
	}
	if maxLimit <= 0 {
		maxLimit = 2000
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	if appCtx == nil {
		appCtx = context.Background()
	}
	return &Scanner{
		logger:       logger,
		factory:      factory,
		account:      account,
		store:        st,
		pub:          pub,
		workers:      workers,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		appCtx:       appCtx,
	}
}

// Start kicks off a background scan. It returns ErrScanRunning if one is
// already in flight.
func (s *Scanner) Start(query string, limit int64) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrScanRunning
	}
	runCtx, cancel := context.WithCancel(s.appCtx)
	s.running = true
	s.cancel = cancel
	s.resetPending = false
	s.status = model.ScanStatus{Progress: 0, Message: "Starting scan..."}
	s.results = nil
	s.mu.Unlock()

	if query == "" {
		query = gmail.DefaultQuery
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	go s.run(runCtx, query, limit)
	return nil
}

// Status returns the current scan progress.
func (s *Scanner) Status() model.ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Results returns the aggregated senders of the last completed scan. When no
// scan ran this session, the cached snapshot for the account is used.
func (s *Scanner) Results(ctx context.Context) []model.Sender {
	s.mu.Lock()
	if s.results != nil {
		out := s.results
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()

	if s.store == nil || s.account.Email() == "" {
		return nil
	}
	snap, err := s.store.GetScanSnapshot(ctx, s.account.Email())
	if err != nil || snap == nil {
		return nil
	}
	return snap.Senders
}

// Reset clears in-memory scan state, for sign-out. A scan still in flight is
// canceled, and its state is cleared once it unwinds.
func (s *Scanner) Reset() {
	s.mu.Lock()
	if s.running {
		s.resetPending = true
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}
	s.status = model.ScanStatus{}
	s.results = nil
	s.mu.Unlock()
}

// AccountEmail returns the signed-in account's email, fetching the profile on
// first use.
func (s *Scanner) AccountEmail(ctx context.Context) (string, error) {
	if email := s.account.Email(); email != "" {
		return email, nil
	}

	mb, err := s.factory(ctx)
	if err != nil {
		return "", err
	}
	email, err := mb.Profile(ctx)
	if err != nil {
		return "", err
	}
	s.account.SetEmail(email)
	return email, nil
}

func (s *Scanner) run(ctx context.Context, query string, limit int64) {
	start := time.Now()

	err := s.scan(ctx, query, limit)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.Error("scan.failed", zap.Error(err))
		s.setStatus(model.ScanStatus{Progress: 100, Message: "Scan failed", Done: true, Error: err.Error()})
	}
	metrics.IncScan(outcome)
	metrics.ObserveDuration(metrics.ScanDuration, start, outcome)

	s.mu.Lock()
	s.running = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.resetPending {
		s.resetPending = false
		s.status = model.ScanStatus{}
		s.results = nil
	}
	s.mu.Unlock()
}

func (s *Scanner) scan(ctx context.Context, query string, limit int64) error {
	scanID := uuid.New()
	start := time.Now()

	s.setStatus(model.ScanStatus{Progress: 5, Message: "Connecting to mailbox..."})
	mb, err := s.factory(ctx)
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}

	email, err := mb.Profile(ctx)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	s.account.SetEmail(email)

	s.setStatus(model.ScanStatus{Progress: 10, Message: "Searching for newsletters..."})
	ids, err := mb.ListMessageIDs(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	s.logger.Info("scan.started",
		zap.String("scan_id", scanID.String()),
		zap.String("query", query),
		zap.Int("messages", len(ids)))

	metas := s.fetchMetadata(ctx, mb, ids)
	senders := s.aggregate(ctx, email, metas)

	snap := model.ScanSnapshot{
		AccountEmail: email,
		Scanned:      len(ids),
		Senders:      senders,
		CompletedAt:  time.Now().UTC(),
	}
	if s.store != nil {
		if err := s.store.SaveScanSnapshot(ctx, snap); err != nil {
			s.logger.Warn("scan.snapshot_save_failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.results = senders
	s.mu.Unlock()
	s.setStatus(model.ScanStatus{
		Progress: 100,
		Message:  fmt.Sprintf("Scan complete: %d senders across %d messages", len(senders), len(ids)),
		Done:     true,
	})

	if s.pub != nil {
		evt := model.ScanCompleted{
			ScanID:       scanID,
			AccountEmail: email,
			Scanned:      len(ids),
			Senders:      len(senders),
			Elapsed:      time.Since(start).Seconds(),
		}
		if err := s.pub.PublishScanCompleted(ctx, evt); err != nil {
			s.logger.Warn("scan.publish_failed", zap.Error(err))
		}
	}

	s.logger.Info("scan.completed",
		zap.String("scan_id", scanID.String()),
		zap.Int("senders", len(senders)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// fetchMetadata pulls message headers with a bounded worker pool. Individual
// fetch failures are skipped; a partial scan beats no scan.
func (s *Scanner) fetchMetadata(ctx context.Context, mb gmail.Mailbox, ids []string) []gmail.MessageMeta {
	total := len(ids)
	if total == 0 {
		return nil
	}

	jobs := make(chan string)
	out := make(chan gmail.MessageMeta, total)
	var done int64

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				meta, err := mb.MessageMetadata(ctx, id)
				if err != nil {
					s.logger.Debug("scan.metadata_failed", zap.String("id", id), zap.Error(err))
				} else {
					out <- meta
				}

				// Compute and publish under one lock so progress never
				// goes backwards when workers interleave.
				s.mu.Lock()
				done++
				s.status = model.ScanStatus{
					Progress: 15 + int(80*done/int64(total)),
					Message:  fmt.Sprintf("Analyzing messages (%d/%d)...", done, total),
				}
				s.mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(out)

	metas := make([]gmail.MessageMeta, 0, total)
	for meta := range out {
		metas = append(metas, meta)
	}
	return metas
}

// aggregate groups messages by sender domain. One-click links win over manual
// and mailto ones when a domain sends with mixed headers.
func (s *Scanner) aggregate(ctx context.Context, accountEmail string, metas []gmail.MessageMeta) []model.Sender {
	byDomain := make(map[string]*model.Sender)

	for _, meta := range metas {
		link, mode := gmail.ExtractUnsubscribe(meta.Headers)
		if link == "" {
			continue
		}
		from, _, domain := gmail.SenderInfo(meta.Headers)

		agg, ok := byDomain[domain]
		if !ok {
			agg = &model.Sender{Domain: domain, From: from, Link: link, Mode: mode}
			byDomain[domain] = agg
		}
		agg.Count++
		if len(agg.Subjects) < maxSubjectsPerSender {
			agg.Subjects = append(agg.Subjects, gmail.Subject(meta.Headers))
		}
		if mode == model.ModeOneClick && agg.Mode != model.ModeOneClick {
			agg.Link, agg.Mode = link, mode
		}
	}

	senders := make([]model.Sender, 0, len(byDomain))
	for _, agg := range byDomain {
		if s.store != nil {
			suppressed, err := s.store.IsSuppressed(ctx, accountEmail, agg.Domain)
			if err != nil {
				s.logger.Debug("scan.suppression_lookup_failed", zap.String("domain", agg.Domain), zap.Error(err))
			}
			agg.Suppressed = suppressed
		}
		senders = append(senders, *agg)
	}

	sort.Slice(senders, func(i, j int) bool {
		if senders[i].Count != senders[j].Count {
			return senders[i].Count > senders[j].Count
		}
		return senders[i].Domain < senders[j].Domain
	})
	return senders
}

func (s *Scanner) setStatus(st model.ScanStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}
