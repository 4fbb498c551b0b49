// Package queue carries domain events over RabbitMQ: payment events in,
// search-completed events out.
package queue

import (
	"time"

	"github.com/iliyamo/grant-search-mailer/internal/model"
)

const (
	DefaultPaymentEventsQueue = "billing.payment_events"
	DefaultSearchEventsQueue  = "search.completed"
)

// SearchCompletedEvent is published after a gated search succeeds. It holds
// enough for analytics consumers without reading the account store.
type SearchCompletedEvent struct {
	Email          string     `json:"email"`
	Tier           model.Tier `json:"tier"`
	ResultCount    int        `json:"result_count"`
	SearchesUsed   int        `json:"searches_used"`
	SearchesLimit  int        `json:"searches_limit"`
	NotifierFailed bool       `json:"notifier_failed"`
	CompletedAt    time.Time  `json:"completed_at"`
}

// PaymentEventMessage is the payload of billing.payment_events. It is the
// same JSON as model.PaymentEvent.
type PaymentEventMessage = model.PaymentEvent
