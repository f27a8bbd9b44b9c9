package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/pkg/browser"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/mailsweep/mailsweep/internal/api"
	"github.com/mailsweep/mailsweep/internal/auth"
	"github.com/mailsweep/mailsweep/internal/config"
	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/httpclient"
	"github.com/mailsweep/mailsweep/internal/jobs"
	"github.com/mailsweep/mailsweep/internal/publisher"
	"github.com/mailsweep/mailsweep/internal/rate"
	"github.com/mailsweep/mailsweep/internal/scan"
	"github.com/mailsweep/mailsweep/internal/store"
	"github.com/mailsweep/mailsweep/internal/unsubscribe"
	"github.com/mailsweep/mailsweep/pkg/logger"
	pkgsecrets "github.com/mailsweep/mailsweep/pkg/secrets"
	"github.com/mailsweep/mailsweep/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	logg := logger.S()
	logg.Info("starting [mailsweep]...")
	if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
	}

	// --- Connect to NATS (optional; empty URL disables event publishing) ---
	var nc *nats.Conn
	var pub *publisher.Publisher
	if cfg.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		defer nc.Drain() //nolint:errcheck

		pub, err = publisher.New(nc, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
	} else {
		logg.Info("NATS_URL not set; event publishing disabled")
	}

	// --- Store (Redis + optional Postgres) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL,
		store.PGPoolConfig{}, cfg.SnapshotTTL, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}
	defer st.Close() //nolint:errcheck

	// --- AWS Secrets Manager provider (only when a secret ID is configured) ---
	var provider pkgsecrets.Provider
	if cfg.CredentialsSecretID != "" {
		provider, err = pkgsecrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to init AWS provider", "error", err)
		}
	}

	// --- Auth Manager (Google OAuth lifecycle) ---
	creds := auth.NewCredentialSource(
		cfg.CredentialsJSON,
		cfg.CredentialsFile,
		cfg.CredentialsSecretID,
		provider,
		gmailapi.GmailReadonlyScope,
	)
	authMgr := auth.NewManager(logg.Desugar(), creds, &auth.FileStore{Location: cfg.TokenFile})
	if !authMgr.CredentialsAvailable(ctx) {
		logg.Warn("no Google client credentials found; sign-in will be unavailable until they are provided")
	}

	// --- Rate limiter ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: 10,
		Burst:             20,
	})

	// --- Scanner ---
	factory := func(ctx context.Context) (gmail.Mailbox, error) {
		hc, err := authMgr.HTTPClient(ctx)
		if err != nil {
			return nil, err
		}
		return gmail.New(ctx, hc, rateMgr, logg.Desugar())
	}
	scanner := scan.New(
		logg.Desugar(),
		factory,
		authMgr,
		st,
		pub,
		cfg.ScanWorkers,
		cfg.ScanDefaultLimit,
		cfg.ScanMaxLimit,
		ctx,
	)

	// --- Unsubscriber ---
	exec := httpclient.New(
		logg.Desugar(),
		rateMgr,
		&http.Client{Timeout: cfg.HTTPTimeout},
		2,
		"unsubscribe",
	)
	unsub := unsubscribe.New(logg.Desugar(), exec, st, pub)

	// --- HTTP API + UI ---
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	h := api.NewHandler(logg.Desugar(), authMgr, scanner, unsub, st, ctx)
	api.RegisterRoutes(app, nc, st, h)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Background token refresh ---
	refresher := jobs.NewTokenRefresher(logg.Desugar(), authMgr, cfg.TokenRefreshInterval)
	go refresher.Start(ctx)

	if cfg.OpenBrowser {
		url := fmt.Sprintf("http://localhost:%d", cfg.Port)
		go func() {
			time.Sleep(300 * time.Millisecond)
			if err := browser.OpenURL(url); err != nil {
				logg.Warnw("failed to open browser", "url", url, "error", err)
			}
		}()
	}

	logg.Infow("[mailsweep] running",
		"port", cfg.Port,
		"history", st.HistoryEnabled(),
		"events", pub != nil)

	<-ctx.Done()
	stop()
	logg.Info("shutting down [mailsweep]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.ShutdownWithContext(shutdownCtx) //nolint:errcheck
	logger.Sync()
}
