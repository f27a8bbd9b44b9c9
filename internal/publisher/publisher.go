package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/mailsweep/mailsweep/internal/metrics"
	"github.com/mailsweep/mailsweep/pkg/logger"
	"github.com/mailsweep/mailsweep/pkg/model"
)

const (
	SubjectScanCompleted     = "evt.mailsweep.scan.completed.v1"
	SubjectUnsubscribeResult = "evt.mailsweep.unsubscribe.result.v1"
)

// Publisher wraps a NATS connection and provides helpers for publishing
// canonical mailsweep events.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	service string
}

// New creates a new Publisher with JetStream enabled.
func New(nc *nats.Conn, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, js: js, service: service}, nil
}

// PublishEnvelope serializes and publishes a canonical event envelope.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"account_email":  []string{env.AccountEmail},
			"content_type":   []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	logger.S().Infow("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
	)

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// PublishScanCompleted emits scan.completed events.
func (p *Publisher) PublishScanCompleted(ctx context.Context, evt model.ScanCompleted) error {
	env := &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: evt.ScanID,
		AccountEmail:  evt.AccountEmail,
		Topic:         SubjectScanCompleted,
		EventType:     "scan.completed",
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
	}

	data, _ := json.Marshal(evt)
	env.Payload = data

	return p.PublishEnvelope(ctx, SubjectScanCompleted, env)
}

// PublishUnsubscribeResult emits unsubscribe.result events.
func (p *Publisher) PublishUnsubscribeResult(ctx context.Context, rec model.UnsubscribeRecord) error {
	env := &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		AccountEmail:  rec.AccountEmail,
		Topic:         SubjectUnsubscribeResult,
		EventType:     "unsubscribe.result",
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
	}

	data, _ := json.Marshal(rec)
	env.Payload = data

	return p.PublishEnvelope(ctx, SubjectUnsubscribeResult, env)
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
