package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

type stubVerifier struct{ ok bool }

func (v stubVerifier) VerifySignature([]byte, string) bool { return v.ok }

type stubFinalizer struct {
	gotIntent string
	res       *service.FinalizeResult
	err       error
}

func (f *stubFinalizer) FinalizeByIntent(_ context.Context, intentID string) (*service.FinalizeResult, error) {
	f.gotIntent = intentID
	return f.res, f.err
}

type stubReleaser struct {
	gotIntent string
	err       error
}

func (r *stubReleaser) CancelByIntent(_ context.Context, intentID string) error {
	r.gotIntent = intentID
	return r.err
}

func postWebhook(h *WebhookHandler, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	_ = h.Handle(e.NewContext(req, rec))
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	fin := &stubFinalizer{}
	rel := &stubReleaser{}
	h := NewWebhookHandler(stubVerifier{ok: false}, fin, rel)

	rec := postWebhook(h, `{"code":"00","status":"PAID","orderCode":"ord-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fin.gotIntent)
	assert.Empty(t, rel.gotIntent)
}

func TestWebhookPaidFinalizes(t *testing.T) {
	fin := &stubFinalizer{res: &service.FinalizeResult{Booking: &model.Booking{ID: 55, Reference: "BK-X"}}}
	rel := &stubReleaser{}
	h := NewWebhookHandler(stubVerifier{ok: true}, fin, rel)

	rec := postWebhook(h, `{"code":"00","status":"PAID","orderCode":"ord-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ord-1", fin.gotIntent)
	assert.Contains(t, rec.Body.String(), `"booking_id":55`)
}

func TestWebhookPaidReplayIsAcknowledged(t *testing.T) {
	fin := &stubFinalizer{err: service.ErrDraftNotEligible}
	h := NewWebhookHandler(stubVerifier{ok: true}, fin, &stubReleaser{})

	rec := postWebhook(h, `{"code":"00","status":"PAID","orderCode":"ord-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "unknown or settled orders must not trigger provider retries")
}

func TestWebhookPaidInternalErrorAsksForRetry(t *testing.T) {
	fin := &stubFinalizer{err: errors.New("db down")}
	h := NewWebhookHandler(stubVerifier{ok: true}, fin, &stubReleaser{})

	rec := postWebhook(h, `{"code":"00","status":"PAID","orderCode":"ord-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookTerminalCancels(t *testing.T) {
	rel := &stubReleaser{}
	h := NewWebhookHandler(stubVerifier{ok: true}, &stubFinalizer{}, rel)

	rec := postWebhook(h, `{"code":"99","status":"CANCELLED","orderCode":"ord-2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ord-2", rel.gotIntent)
}

func TestWebhookIgnoresUnusableBody(t *testing.T) {
	fin := &stubFinalizer{}
	rel := &stubReleaser{}
	h := NewWebhookHandler(stubVerifier{ok: true}, fin, rel)

	for _, body := range []string{`{not json`, `{}`, `{"status":"PENDING","orderCode":"ord-3"}`} {
		rec := postWebhook(h, body)
		assert.Equal(t, http.StatusOK, rec.Code, body)
	}
	assert.Empty(t, fin.gotIntent)
	assert.Empty(t, rel.gotIntent)
}
