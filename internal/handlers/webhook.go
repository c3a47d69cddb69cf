package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/concordhq/concord/internal/dialog"
)

// WebhookHandler receives dialog-platform turns, verifies the platform's
// signed token, and dispatches the turn to the intent handlers.
type WebhookHandler struct {
	verifier   *dialog.Verifier
	dispatcher *dialog.Dispatcher
	logger     *slog.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(log *slog.Logger, verifier *dialog.Verifier, dispatcher *dialog.Dispatcher) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		logger:     log.With(slog.String("handler", "webhook")),
	}
}

// Register mounts the webhook route on the Echo instance.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/dialog/webhook", h.HandleTurn)
}

// HandleTurn processes one dialog turn. The end-user identity and their
// collaboration access token come from the verified token, never from the
// request body.
func (h *WebhookHandler) HandleTurn(c echo.Context) error {
	token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}
	claims, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.Warn("webhook token rejected", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook token")
	}

	var req dialog.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed turn payload")
	}
	req.UserID = claims.Identity
	req.AccessToken = claims.AccessToken

	resp := h.dispatcher.Dispatch(c.Request().Context(), req)
	return c.JSON(http.StatusOK, resp)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
