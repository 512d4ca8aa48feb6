package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/handler"
)

// RegisterRoutes registers routes that exist regardless of wiring.  At
// the moment that is only the health check used by load balancers.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterReservation registers the checkout surface.  Seat selection is
// open to anonymous callers, so no auth middleware is mandatory here;
// the optional JWT middleware and the rate limiter are applied by the
// caller via opts so tests can mount the bare routes.
func RegisterReservation(e *echo.Echo, r *handler.ReservationHandler, opts ...echo.MiddlewareFunc) {
	g := e.Group("/v1", opts...)
	// Acquire seat locks; the first call of a session issues the token.
	g.POST("/locks", r.LockSeats)
	// Release every seat the session holds and cancel its draft.
	g.DELETE("/locks", r.UnlockSeats)
	// Inspect the session's draft: status, expiry, pricing snapshot.
	g.GET("/checkout", r.GetCheckout)
	// Ask the payment provider for a hosted checkout link.
	g.POST("/checkout/payment-link", r.CreatePaymentLink)
	// Direct finalization without the payment provider (cash at counter).
	g.POST("/checkout/confirm", r.ConfirmCash)
}

// RegisterWebhook registers the payment provider callback.  It lives
// outside the reservation group: the provider authenticates by signature,
// not by session token, and must never be rate limited away.
func RegisterWebhook(e *echo.Echo, w *handler.WebhookHandler) {
	e.POST("/v1/payments/webhook", w.Handle)
}
