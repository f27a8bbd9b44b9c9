package api

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mailsweep/mailsweep/internal/auth"
	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/scan"
	"github.com/mailsweep/mailsweep/internal/store"
	"github.com/mailsweep/mailsweep/internal/unsubscribe"
	"github.com/mailsweep/mailsweep/pkg/model"
)

// Handler serves the mailsweep HTTP API backing the web UI.
type Handler struct {
	logger  *zap.Logger
	auth    *auth.Manager
	scanner *scan.Scanner
	unsub   *unsubscribe.Unsubscriber
	store   store.Store

	// appCtx outlives individual requests; sign-in flows run on it.
	appCtx context.Context
}

func NewHandler(
	logger *zap.Logger,
	mgr *auth.Manager,
	scanner *scan.Scanner,
	unsub *unsubscribe.Unsubscriber,
	st store.Store,
	appCtx context.Context,
) *Handler {
	if appCtx == nil {
		appCtx = context.Background()
	}
	return &Handler{
		logger:  logger,
		auth:    mgr,
		scanner: scanner,
		unsub:   unsub,
		store:   st,
		appCtx:  appCtx,
	}
}

// AuthStatus reports whether the user is signed in. The account email is
// looked up lazily on first call after sign-in.
func (h *Handler) AuthStatus(c *fiber.Ctx) error {
	status := h.auth.Status()
	if status.LoggedIn && status.Email == "" {
		email, err := h.scanner.AccountEmail(c.Context())
		if err != nil {
			h.logger.Debug("api.profile_lookup_failed", zap.Error(err))
		} else {
			status.Email = email
		}
	}

	return c.JSON(AuthStatusResponse{
		LoggedIn:             status.LoggedIn,
		Email:                status.Email,
		CredentialsAvailable: h.auth.CredentialsAvailable(c.Context()),
	})
}

// SignIn launches the browser OAuth flow in the background. The UI polls
// /auth/status to learn when it lands.
func (h *Handler) SignIn(c *fiber.Ctx) error {
	if h.auth.SigningIn() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": auth.ErrSignInInProgress.Error()})
	}
	if !h.auth.CredentialsAvailable(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no OAuth credentials configured; set GOOGLE_CREDENTIALS or provide credentials.json",
		})
	}

	go func() {
		if err := h.auth.SignIn(h.appCtx); err != nil && !errors.Is(err, auth.ErrSignInInProgress) {
			h.logger.Error("api.sign_in_failed", zap.Error(err))
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "sign-in started, check your browser"})
}

// SignOut deletes the stored token and clears session state.
func (h *Handler) SignOut(c *fiber.Ctx) error {
	if err := h.auth.SignOut(); err != nil {
		h.logger.Error("api.sign_out_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	h.scanner.Reset()
	return c.JSON(fiber.Map{"status": "signed out"})
}

// Scan starts a background mailbox scan.
func (h *Handler) Scan(c *fiber.Ctx) error {
	var req ScanRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if !h.auth.LoggedIn() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": auth.ErrNotSignedIn.Error()})
	}

	query := req.Query
	if query == "" {
		query = gmail.BuildQuery(req.Filters)
	}

	if err := h.scanner.Start(query, req.Limit); err != nil {
		if errors.Is(err, scan.ErrScanRunning) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "scan started"})
}

// ScanStatus returns the progress of the running (or last) scan.
func (h *Handler) ScanStatus(c *fiber.Ctx) error {
	return c.JSON(h.scanner.Status())
}

// Results returns the aggregated senders of the last scan.
func (h *Handler) Results(c *fiber.Ctx) error {
	senders := h.scanner.Results(c.Context())
	if senders == nil {
		senders = []model.Sender{}
	}
	return c.JSON(fiber.Map{"senders": senders, "count": len(senders)})
}

// Unsubscribe attempts a single sender's unsubscribe link.
func (h *Handler) Unsubscribe(c *fiber.Ctx) error {
	var req UnsubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	// The UI sends just a domain; resolve the link from the last scan.
	if req.Link == "" {
		for _, s := range h.scanner.Results(c.Context()) {
			if s.Domain == req.Domain {
				req.Link, req.Mode = s.Link, s.Mode
				break
			}
		}
	}
	if req.Link == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no unsubscribe link known for " + req.Domain})
	}

	out, err := h.unsub.Attempt(c.Context(), unsubscribe.Request{
		AccountEmail: h.auth.Email(),
		Domain:       req.Domain,
		Link:         req.Link,
		Mode:         req.Mode,
	})
	if err != nil {
		h.logger.Error("api.unsubscribe_failed",
			zap.String("domain", req.Domain),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(out)
}

// History lists past unsubscribe attempts. Requires a configured database.
func (h *Handler) History(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))

	records, err := h.store.ListUnsubscribeHistory(c.Context(), c.Query("domain"), limit)
	if err != nil {
		if errors.Is(err, store.ErrHistoryDisabled) {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": err.Error()})
		}
		h.logger.Error("api.history_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if records == nil {
		records = []model.UnsubscribeRecord{}
	}
	return c.JSON(fiber.Map{"records": records, "count": len(records)})
}
