package unsubscribe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailsweep/mailsweep/internal/httpclient"
	"github.com/mailsweep/mailsweep/internal/metrics"
	"github.com/mailsweep/mailsweep/internal/publisher"
	"github.com/mailsweep/mailsweep/internal/store"
	"github.com/mailsweep/mailsweep/pkg/model"
)

const oneClickBody = "List-Unsubscribe=One-Click"

// Request identifies a single sender to unsubscribe from.
type Request struct {
	AccountEmail string
	Domain       string
	Link         string
	Mode         string
}

// Outcome is the result reported back to the caller.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Unsubscriber attempts List-Unsubscribe targets. One-click senders get an
// RFC 8058 POST first; everything else falls back to a plain GET.
type Unsubscriber struct {
	logger   *zap.Logger
	exec     *httpclient.Executor
	store    store.Store
	pub      *publisher.Publisher
	validate func(ctx context.Context, raw string) error
}

func New(logger *zap.Logger, exec *httpclient.Executor, st store.Store, pub *publisher.Publisher) *Unsubscriber {
	return &Unsubscriber{
		logger:   logger,
		exec:     exec,
		store:    st,
		pub:      pub,
		validate: ValidateExternalURL,
	}
}

// Attempt runs one unsubscribe attempt and records the outcome. The returned
// error covers infrastructure failures only; an endpoint saying no is a
// non-error Outcome with Success=false.
func (u *Unsubscriber) Attempt(ctx context.Context, req Request) (Outcome, error) {
	if req.Link == "" {
		return Outcome{}, fmt.Errorf("no unsubscribe link for %s", req.Domain)
	}

	outcome := u.attempt(ctx, req)

	metrics.IncUnsubscribe(req.Mode, outcomeLabel(outcome.Success))
	u.logger.Info("unsubscribe.attempted",
		zap.String("domain", req.Domain),
		zap.String("mode", req.Mode),
		zap.Bool("success", outcome.Success))

	rec := model.UnsubscribeRecord{
		AccountEmail: req.AccountEmail,
		Domain:       req.Domain,
		Link:         req.Link,
		Mode:         req.Mode,
		Success:      outcome.Success,
		Message:      outcome.Message,
		AttemptedAt:  time.Now().UTC(),
	}
	if u.store != nil {
		if err := u.store.RecordUnsubscribe(ctx, rec); err != nil {
			u.logger.Warn("unsubscribe.record_failed", zap.Error(err))
		}
		if outcome.Success {
			if err := u.store.AddSuppression(ctx, req.AccountEmail, req.Domain); err != nil {
				u.logger.Warn("unsubscribe.suppression_failed", zap.Error(err))
			}
		}
	}
	if u.pub != nil {
		if err := u.pub.PublishUnsubscribeResult(ctx, rec); err != nil {
			u.logger.Warn("unsubscribe.publish_failed", zap.Error(err))
		}
	}

	return outcome, nil
}

func (u *Unsubscriber) attempt(ctx context.Context, req Request) Outcome {
	if strings.HasPrefix(req.Link, "mailto:") {
		return Outcome{Success: false, Message: "mailto link, open it in your email client"}
	}

	if err := u.validate(ctx, req.Link); err != nil {
		return Outcome{Success: false, Message: "unsafe unsubscribe link: " + err.Error()}
	}

	host := hostOf(req.Link)

	if req.Mode == model.ModeOneClick {
		res, err := u.post(ctx, req.Link, host)
		if err == nil && res.Status >= 200 && res.Status < 300 {
			return Outcome{Success: true, Message: fmt.Sprintf("one-click unsubscribe accepted (HTTP %d)", res.Status)}
		}
		if err != nil {
			u.logger.Debug("unsubscribe.post_failed", zap.String("domain", req.Domain), zap.Error(err))
		}
	}

	res, err := u.get(ctx, req.Link, host)
	if err != nil {
		return Outcome{Success: false, Message: "request failed: " + err.Error()}
	}
	switch {
	case res.Status >= 200 && res.Status < 300:
		return Outcome{Success: true, Message: fmt.Sprintf("unsubscribe page returned HTTP %d", res.Status)}
	case res.Status == http.StatusMovedPermanently || res.Status == http.StatusFound:
		return Outcome{Success: true, Message: fmt.Sprintf("unsubscribe endpoint redirected (HTTP %d)", res.Status)}
	default:
		return Outcome{Success: false, Message: fmt.Sprintf("endpoint returned HTTP %d", res.Status)}
	}
}

func (u *Unsubscriber) post(ctx context.Context, link, host string) (httpclient.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, link, strings.NewReader(oneClickBody))
	if err != nil {
		return httpclient.Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return u.exec.Do(ctx, req, host)
}

func (u *Unsubscriber) get(ctx context.Context, link, host string) (httpclient.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return httpclient.Result{}, err
	}
	return u.exec.Do(ctx, req, host)
}

func hostOf(link string) string {
	if u, err := url.Parse(link); err == nil && u.Host != "" {
		return u.Host
	}
	return "unknown"
}

func outcomeLabel(success bool) string {
	if success {
		return "ok"
	}
	return "failed"
}
