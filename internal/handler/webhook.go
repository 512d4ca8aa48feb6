package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/payment"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

// signatureHeader is where the payment provider puts its HMAC of the raw
// request body.
const signatureHeader = "x-signature"

// WebhookVerifier checks a webhook body against its signature header.
type WebhookVerifier interface {
	VerifySignature(payload []byte, signature string) bool
}

// IntentFinalizer turns a paid order code into a booking.
type IntentFinalizer interface {
	FinalizeByIntent(ctx context.Context, intentID string) (*service.FinalizeResult, error)
}

// IntentReleaser tears down the draft behind a failed order code.
type IntentReleaser interface {
	CancelByIntent(ctx context.Context, intentID string) error
}

// WebhookHandler receives payment gateway callbacks.  The provider
// retries until it sees 2xx, so the handler acknowledges everything it
// can never act on (unknown order codes, non-final statuses) and only
// signals failure when retrying could help.
type WebhookHandler struct {
	Verifier  WebhookVerifier
	Finalizer IntentFinalizer
	Releaser  IntentReleaser
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(verifier WebhookVerifier, finalizer IntentFinalizer, releaser IntentReleaser) *WebhookHandler {
	if verifier == nil || finalizer == nil || releaser == nil {
		panic("nil dependency passed to NewWebhookHandler")
	}
	return &WebhookHandler{Verifier: verifier, Finalizer: finalizer, Releaser: releaser}
}

// Handle processes POST /v1/payments/webhook.  The signature is checked
// against the raw body before any parsing; a bad signature is the one
// case that gets a 400 so the provider's dashboard surfaces it.
func (h *WebhookHandler) Handle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	if !h.Verifier.VerifySignature(body, c.Request().Header.Get(signatureHeader)) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	}

	result, err := payment.Normalize(body)
	if err != nil || result.OrderCode == "" {
		// signed but unusable payload; retrying will not change it
		return c.JSON(http.StatusOK, echo.Map{"received": true})
	}

	ctx := c.Request().Context()
	switch {
	case result.IsPaid:
		fin, err := h.Finalizer.FinalizeByIntent(ctx, result.OrderCode)
		if err != nil {
			if errors.Is(err, service.ErrDraftNotEligible) {
				// unknown or already settled order code
				return c.JSON(http.StatusOK, echo.Map{"received": true})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "finalize failed"})
		}
		return c.JSON(http.StatusOK, echo.Map{
			"received":   true,
			"booking_id": fin.Booking.ID,
			"idempotent": fin.Idempotent,
		})
	case result.Terminal:
		if err := h.Releaser.CancelByIntent(ctx, result.OrderCode); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cancel failed"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
