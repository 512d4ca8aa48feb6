package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

// SessionHeader carries the opaque checkout session token.  It is issued
// by the first successful lock call and must accompany every later call
// of the same session.
const SessionHeader = "X-Session-Token"

// ReservationHandler exposes the seat-reservation surface: locking,
// unlocking, draft inspection, payment-link creation and cash
// confirmation.  All state decisions live in the services; the handler
// only binds requests and maps errors to HTTP responses.
type ReservationHandler struct {
	Locks    *service.SeatLockService
	Release  *service.SeatReleaseService
	Bookings *service.BookingService
}

// NewReservationHandler constructs a ReservationHandler with the provided
// services.  All dependencies must be non-nil.
func NewReservationHandler(locks *service.SeatLockService, release *service.SeatReleaseService, bookings *service.BookingService) *ReservationHandler {
	if locks == nil || release == nil || bookings == nil {
		panic("nil service passed to NewReservationHandler")
	}
	return &ReservationHandler{Locks: locks, Release: release, Bookings: bookings}
}

// LockSeats handles POST /v1/locks.  The body names one or more trips
// with the seats wanted on each.  Without a session header a new session
// is started; with one, seats are added to the live draft.  force_new
// cancels the current session first and issues a fresh token.  Conflicts
// return 409 with the exact unavailable seats.
func (h *ReservationHandler) LockSeats(c echo.Context) error {
	var body struct {
		Trips    []service.TripSelection `json:"trips"`
		ForceNew bool                    `json:"force_new"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Trips) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "trips is required"})
	}
	ctx := c.Request().Context()
	token := c.Request().Header.Get(SessionHeader)
	if body.ForceNew && token != "" {
		if _, err := h.Release.CancelAllBySession(ctx, token); err != nil && !errors.Is(err, service.ErrDraftNotEligible) {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to cancel previous session"})
		}
		token = ""
	}

	res, err := h.Locks.Lock(ctx, service.LockRequest{
		Trips:        body.Trips,
		SessionToken: token,
		UserID:       optionalUserID(c),
	})
	if err != nil {
		var conflict *service.LockConflictError
		if errors.As(err, &conflict) {
			return c.JSON(http.StatusConflict, echo.Map{
				"error":       "some seats are unavailable",
				"trip_id":     conflict.TripID,
				"unavailable": conflict.SeatIDs,
			})
		}
		if errors.Is(err, service.ErrDraftNotEligible) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "session is no longer active, restart seat selection"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock seats"})
	}
	return c.JSON(http.StatusCreated, res)
}

// UnlockSeats handles DELETE /v1/locks.  It cancels the whole session:
// every held seat is released and the draft marked cancelled.
func (h *ReservationHandler) UnlockSeats(c echo.Context) error {
	token := c.Request().Header.Get(SessionHeader)
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing session token"})
	}
	res, err := h.Release.CancelAllBySession(c.Request().Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrDraftNotEligible) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to release seats"})
	}
	return c.JSON(http.StatusOK, res)
}

// GetCheckout handles GET /v1/checkout.  It returns the session's draft:
// status, expiry and the pricing snapshot with all legs and items.
func (h *ReservationHandler) GetCheckout(c echo.Context) error {
	token := c.Request().Header.Get(SessionHeader)
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing session token"})
	}
	d, err := h.Bookings.DraftStatus(c.Request().Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrDraftNotEligible) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load checkout"})
	}
	return c.JSON(http.StatusOK, draftView(d))
}

// CreatePaymentLink handles POST /v1/checkout/payment-link.  The draft
// moves to paying and the client is handed the provider's checkout URL.
func (h *ReservationHandler) CreatePaymentLink(c echo.Context) error {
	token := c.Request().Header.Get(SessionHeader)
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing session token"})
	}
	var body struct {
		CouponCode string `json:"coupon_code"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	res, err := h.Bookings.CreatePaymentLink(c.Request().Context(), token, body.CouponCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDraftNotEligible):
			return c.JSON(http.StatusConflict, echo.Map{"error": "session is no longer active, restart seat selection"})
		case errors.Is(err, service.ErrProviderUnavailable):
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment provider unavailable, seats released"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create payment link"})
	}
	return c.JSON(http.StatusOK, res)
}

// ConfirmCash handles POST /v1/checkout/confirm, the direct finalization
// path.  On success the booking reference is returned; an expired hold
// surfaces as 409 instructing the user to re-select seats.
func (h *ReservationHandler) ConfirmCash(c echo.Context) error {
	token := c.Request().Header.Get(SessionHeader)
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing session token"})
	}
	var body struct {
		DraftID uint64 `json:"draft_id"`
	}
	if err := c.Bind(&body); err != nil || body.DraftID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "draft_id is required"})
	}
	res, err := h.Bookings.Finalize(c.Request().Context(), body.DraftID, token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSeatLockLost):
			return c.JSON(http.StatusConflict, echo.Map{"error": "seat hold expired, restart seat selection"})
		case errors.Is(err, service.ErrDraftNotEligible):
			return c.JSON(http.StatusConflict, echo.Map{"error": "checkout is no longer active, restart seat selection"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to confirm booking"})
	}
	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	return c.JSON(status, echo.Map{
		"booking_id":  res.Booking.ID,
		"reference":   res.Booking.Reference,
		"total_cents": res.Booking.TotalCents,
		"idempotent":  res.Idempotent,
	})
}

// draftView flattens the aggregate into the response shape.
func draftView(d *model.DraftCheckout) echo.Map {
	legs := make([]echo.Map, 0, len(d.Legs))
	for _, leg := range d.Legs {
		items := make([]echo.Map, 0, len(leg.Items))
		for _, it := range leg.Items {
			items = append(items, echo.Map{
				"seat_id":     it.SeatID,
				"seat_label":  it.SeatLabel,
				"price_cents": it.PriceCents,
			})
		}
		legs = append(legs, echo.Map{"trip_id": leg.TripID, "items": items})
	}
	out := echo.Map{
		"draft_id":       d.ID,
		"status":         d.Status,
		"expires_at":     d.ExpiresAt.Format(time.RFC3339),
		"subtotal_cents": d.SubtotalCents,
		"discount_cents": d.DiscountCents,
		"total_cents":    d.TotalCents,
		"legs":           legs,
	}
	if d.BookingID != nil {
		out["booking_id"] = *d.BookingID
	}
	return out
}

// optionalUserID extracts the authenticated user id injected by the JWT
// middleware, if any.  Anonymous sessions simply get a nil user.
func optionalUserID(c echo.Context) *uint64 {
	v := c.Get("user_id")
	switch t := v.(type) {
	case uint64:
		return &t
	case int64:
		u := uint64(t)
		return &u
	case float64:
		u := uint64(t)
		return &u
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}
