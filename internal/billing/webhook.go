package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/iliyamo/grant-search-mailer/internal/model"
)

var (
	// ErrInvalidWebhook covers bad signatures and undecodable payloads.
	ErrInvalidWebhook = errors.New("billing: invalid webhook")
	// ErrIgnoredEvent marks a verified event type this service does not use.
	ErrIgnoredEvent = errors.New("billing: event ignored")
)

const (
	eventCheckoutCompleted   = "checkout.session.completed"
	eventInvoicePaid         = "invoice.payment_succeeded"
	eventSubscriptionDeleted = "customer.subscription.deleted"
)

// WebhookParser verifies Stripe-Signature headers and maps event payloads.
type WebhookParser struct {
	secret string
}

func NewWebhookParser(secret string) *WebhookParser { return &WebhookParser{secret: secret} }

// Parse verifies payload against sigHeader and converts it. Verified events
// of other types return ErrIgnoredEvent.
func (p *WebhookParser) Parse(payload []byte, sigHeader string) (model.PaymentEvent, error) {
	if p == nil || p.secret == "" {
		return model.PaymentEvent{}, ErrNotConfigured
	}
	ev, err := webhook.ConstructEventWithOptions(payload, sigHeader, p.secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return model.PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if ev.Data == nil {
		return model.PaymentEvent{}, fmt.Errorf("%w: event %s has no data", ErrInvalidWebhook, ev.ID)
	}
	return mapEvent(string(ev.Type), time.Unix(ev.Created, 0).UTC(), ev.Data.Raw)
}

type customerDetails struct {
	Email string `json:"email"`
}

type checkoutSession struct {
	ID              string            `json:"id"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails *customerDetails  `json:"customer_details"`
	Metadata        map[string]string `json:"metadata"`
	Subscription    expandableID      `json:"subscription"`
	PaymentIntent   expandableID      `json:"payment_intent"`
}

type invoice struct {
	ID                  string       `json:"id"`
	CustomerEmail       string       `json:"customer_email"`
	Subscription        expandableID `json:"subscription"`
	PaymentIntent       expandableID `json:"payment_intent"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

type subscription struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

func mapEvent(kind string, at time.Time, raw json.RawMessage) (model.PaymentEvent, error) {
	switch kind {
	case eventCheckoutCompleted:
		var s checkoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return model.PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		email := s.CustomerEmail
		if email == "" && s.CustomerDetails != nil {
			email = s.CustomerDetails.Email
		}
		return model.PaymentEvent{
			Kind:           model.PaymentCheckoutCompleted,
			Email:          firstNonEmpty(email, s.Metadata[MetadataEmailKey]),
			PaymentID:      firstNonEmpty(string(s.PaymentIntent), s.ID),
			SubscriptionID: string(s.Subscription),
			OccurredAt:     at,
		}, nil

	case eventInvoicePaid:
		var inv invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return model.PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		email := inv.CustomerEmail
		if email == "" && inv.SubscriptionDetails != nil {
			email = inv.SubscriptionDetails.Metadata[MetadataEmailKey]
		}
		return model.PaymentEvent{
			Kind:           model.PaymentRecurringSucceeded,
			Email:          email,
			PaymentID:      firstNonEmpty(string(inv.PaymentIntent), inv.ID),
			SubscriptionID: string(inv.Subscription),
			OccurredAt:     at,
		}, nil

	case eventSubscriptionDeleted:
		var sub subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return model.PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		return model.PaymentEvent{
			Kind:           model.PaymentSubscriptionCancelled,
			Email:          sub.Metadata[MetadataEmailKey],
			SubscriptionID: sub.ID,
			OccurredAt:     at,
		}, nil
	}
	return model.PaymentEvent{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, kind)
}

// expandableID decodes a Stripe field that is either an id string or an
// expanded object with an "id" member.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
