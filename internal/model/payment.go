package model

import "time"

// PaymentEventKind names the payment notifications the service understands.
type PaymentEventKind string

const (
	PaymentCheckoutCompleted     PaymentEventKind = "checkout_completed"
	PaymentRecurringSucceeded    PaymentEventKind = "payment_succeeded"
	PaymentSubscriptionCancelled PaymentEventKind = "subscription_cancelled"
)

// PaymentEvent is the provider-neutral form of a payment notification. It is
// produced by the Stripe webhook and also travels as JSON on the
// billing.payment_events queue.
type PaymentEvent struct {
	Kind           PaymentEventKind `json:"kind"`
	Email          string           `json:"email"`
	PaymentID      string           `json:"payment_id,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}
