package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/grant-search-mailer/internal/billing"
	"github.com/iliyamo/grant-search-mailer/internal/model"
)

// Larger payloads are answered with 413 rather than truncated.
const maxWebhookBody = 1 << 20

// PaymentApplier applies a verified payment event.
type PaymentApplier interface {
	ApplyPaymentEvent(ctx context.Context, ev model.PaymentEvent) error
}

// WebhookHandler serves POST /api/webhooks/stripe.
type WebhookHandler struct {
	Parser   *billing.WebhookParser
	Payments PaymentApplier
	Log      *zap.Logger
}

func NewWebhookHandler(parser *billing.WebhookParser, payments PaymentApplier, log *zap.Logger) *WebhookHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookHandler{Parser: parser, Payments: payments, Log: log}
}

// Stripe verifies the signature, converts the event and applies it. Once
// the signature checks out the answer is 200 even if applying failed; the
// failure is logged.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	if len(payload) > maxWebhookBody {
		h.Log.Warn("stripe webhook too large", zap.Int("limit", maxWebhookBody))
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "payload too large"})
	}

	ev, err := h.Parser.Parse(payload, c.Request().Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "webhooks not configured"})
	case errors.Is(err, billing.ErrIgnoredEvent):
		return c.JSON(http.StatusOK, echo.Map{"received": true, "ignored": true})
	case err != nil:
		h.Log.Warn("stripe webhook rejected", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid webhook"})
	}

	if err := h.Payments.ApplyPaymentEvent(c.Request().Context(), ev); err != nil {
		h.Log.Error("stripe event not applied",
			zap.String("kind", string(ev.Kind)),
			zap.String("email", ev.Email),
			zap.Error(err))
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
