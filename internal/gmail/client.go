package gmail

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mailsweep/mailsweep/internal/metrics"
	"github.com/mailsweep/mailsweep/internal/rate"
)

// rateKey scopes the Gmail quota limiter; one bucket for the whole account.
const rateKey = "gmail"

// metadataHeaders are the only headers a scan needs.
var metadataHeaders = []string{"From", "Subject", "List-Unsubscribe", "List-Unsubscribe-Post"}

// Header is a single message header.
type Header struct {
	Name  string
	Value string
}

// MessageMeta is the metadata-only view of a message.
type MessageMeta struct {
	ID      string
	Headers []Header
}

// Mailbox is the read-only mailbox surface the scanner depends on.
type Mailbox interface {
	Profile(ctx context.Context) (string, error)
	ListMessageIDs(ctx context.Context, query string, limit int64) ([]string, error)
	MessageMetadata(ctx context.Context, id string) (MessageMeta, error)
}

// Client implements Mailbox over the Gmail API.
type Client struct {
	logger  *zap.Logger
	svc     *gmailapi.Service
	rateMgr *rate.Manager
}

var _ Mailbox = (*Client)(nil)

// New builds a client over an authenticated HTTP client.
func New(ctx context.Context, hc *http.Client, rateMgr *rate.Manager, logger *zap.Logger) (*Client, error) {
	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Client{
		logger:  logger,
		svc:     svc,
		rateMgr: rateMgr,
	}, nil
}

// Profile returns the account's email address.
func (c *Client) Profile(ctx context.Context) (string, error) {
	if err := c.rateMgr.Wait(ctx, rateKey); err != nil {
		return "", err
	}

	start := time.Now()
	prof, err := c.svc.Users.GetProfile("me").Context(ctx).Do()
	metrics.ObserveDuration(metrics.GmailRequestDuration, start, "get_profile")
	if err != nil {
		metrics.IncGmailRequest("get_profile", "error")
		return "", fmt.Errorf("get profile: %w", err)
	}
	metrics.IncGmailRequest("get_profile", "ok")

	return prof.EmailAddress, nil
}

// ListMessageIDs returns up to limit message IDs matching query, following
// result pages as needed.
func (c *Client) ListMessageIDs(ctx context.Context, query string, limit int64) ([]string, error) {
	var ids []string
	pageToken := ""

	for int64(len(ids)) < limit {
		if err := c.rateMgr.Wait(ctx, rateKey); err != nil {
			return nil, err
		}

		pageSize := limit - int64(len(ids))
		if pageSize > 500 {
			pageSize = 500
		}

		call := c.svc.Users.Messages.List("me").
			Q(query).
			MaxResults(pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		start := time.Now()
		resp, err := call.Do()
		metrics.ObserveDuration(metrics.GmailRequestDuration, start, "list_messages")
		if err != nil {
			metrics.IncGmailRequest("list_messages", "error")
			return nil, fmt.Errorf("list messages: %w", err)
		}
		metrics.IncGmailRequest("list_messages", "ok")

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" || len(resp.Messages) == 0 {
			break
		}
	}

	c.logger.Debug("gmail.listed_messages",
		zap.String("query", query),
		zap.Int("count", len(ids)))
	return ids, nil
}

// MessageMetadata fetches only the headers a scan cares about.
func (c *Client) MessageMetadata(ctx context.Context, id string) (MessageMeta, error) {
	if err := c.rateMgr.Wait(ctx, rateKey); err != nil {
		return MessageMeta{}, err
	}

	start := time.Now()
	msg, err := c.svc.Users.Messages.Get("me", id).
		Format("metadata").
		MetadataHeaders(metadataHeaders...).
		Context(ctx).
		Do()
	metrics.ObserveDuration(metrics.GmailRequestDuration, start, "get_message")
	if err != nil {
		metrics.IncGmailRequest("get_message", "error")
		return MessageMeta{}, fmt.Errorf("get message %s: %w", id, err)
	}
	metrics.IncGmailRequest("get_message", "ok")

	meta := MessageMeta{ID: id}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			meta.Headers = append(meta.Headers, Header{Name: h.Name, Value: h.Value})
		}
	}
	return meta, nil
}
