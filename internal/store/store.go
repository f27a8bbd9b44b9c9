package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mailsweep/mailsweep/pkg/model"
)

// ErrHistoryDisabled is returned by history reads when no Postgres URL was
// configured.
var ErrHistoryDisabled = errors.New("unsubscribe history disabled: no database configured")

// Store defines the contract for caching scan output and persisting
// unsubscribe outcomes.
type Store interface {
	SaveScanSnapshot(ctx context.Context, snap model.ScanSnapshot) error
	GetScanSnapshot(ctx context.Context, accountEmail string) (*model.ScanSnapshot, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	RecordUnsubscribe(ctx context.Context, rec model.UnsubscribeRecord) error
	ListUnsubscribeHistory(ctx context.Context, domain string, limit int) ([]model.UnsubscribeRecord, error)
	AddSuppression(ctx context.Context, accountEmail, domain string) error
	IsSuppressed(ctx context.Context, accountEmail, domain string) (bool, error)
	HistoryEnabled() bool
	HealthCheck(ctx context.Context) error
	Close() error
}

type HybridStore struct {
	redis       *redis.Client
	PG          *pgxpool.Pool
	logger      *zap.Logger
	snapshotTTL time.Duration
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first store with optional Postgres history.
// Redis is required; pgURL may be empty to run without history.
func NewHybrid(redisAddr string, redisDB int, redisPass, pgURL string, pgPoolConfig PGPoolConfig, snapshotTTL time.Duration, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if snapshotTTL <= 0 {
		snapshotTTL = 24 * time.Hour
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		DB:       redisDB,
		Password: redisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger, snapshotTTL: snapshotTTL}, nil
}

func snapshotKey(accountEmail string) string {
	return "scan:latest:" + accountEmail
}

// SaveScanSnapshot caches the completed scan for the account.
func (s *HybridStore) SaveScanSnapshot(ctx context.Context, snap model.ScanSnapshot) error {
	return s.SetJSON(ctx, snapshotKey(snap.AccountEmail), snap, s.snapshotTTL)
}

// GetScanSnapshot returns the cached scan, or nil when none exists.
func (s *HybridStore) GetScanSnapshot(ctx context.Context, accountEmail string) (*model.ScanSnapshot, error) {
	data, err := s.redis.Get(ctx, snapshotKey(accountEmail)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var snap model.ScanSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// RecordUnsubscribe appends an immutable attempt record. A missing database
// makes this a no-op so the tool still works standalone.
func (s *HybridStore) RecordUnsubscribe(ctx context.Context, rec model.UnsubscribeRecord) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO mailsweep.unsubscribe_event (
			account_email, domain, link, mode, success, message, attempted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.AccountEmail, rec.Domain, rec.Link, rec.Mode, rec.Success, rec.Message, rec.AttemptedAt)
	if err != nil {
		s.logger.Error("store.pg.insert_event_failed", zap.Error(err))
	}
	return err
}

// ListUnsubscribeHistory returns past attempts, newest first. domain narrows
// the result when non-empty.
func (s *HybridStore) ListUnsubscribeHistory(ctx context.Context, domain string, limit int) ([]model.UnsubscribeRecord, error) {
	if s.PG == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.PG.Query(ctx, `
		SELECT account_email, domain, link, mode, success, message, attempted_at
		FROM mailsweep.unsubscribe_event
		WHERE ($1 = '' OR domain = $1)
		ORDER BY attempted_at DESC
		LIMIT $2;
	`, domain, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.UnsubscribeRecord
	for rows.Next() {
		var rec model.UnsubscribeRecord
		if err := rows.Scan(&rec.AccountEmail, &rec.Domain, &rec.Link, &rec.Mode,
			&rec.Success, &rec.Message, &rec.AttemptedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AddSuppression marks a domain as unsubscribed for the account.
func (s *HybridStore) AddSuppression(ctx context.Context, accountEmail, domain string) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO mailsweep.sender_suppression (account_email, domain, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_email, domain) DO NOTHING;
	`, accountEmail, domain)
	if err != nil {
		s.logger.Error("store.pg.suppression_upsert_failed", zap.Error(err))
	}
	return err
}

// IsSuppressed reports whether the domain was already unsubscribed. Without a
// database nothing is ever suppressed.
func (s *HybridStore) IsSuppressed(ctx context.Context, accountEmail, domain string) (bool, error) {
	if s.PG == nil {
		return false, nil
	}

	var exists bool
	err := s.PG.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM mailsweep.sender_suppression
			WHERE account_email = $1 AND domain = $2
		);
	`, accountEmail, domain).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("IsSuppressed query failed: %w", err)
	}
	return exists, nil
}

func (s *HybridStore) HistoryEnabled() bool {
	return s.PG != nil
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
