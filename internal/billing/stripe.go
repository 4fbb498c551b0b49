// Package billing wraps Stripe: creating upgrade checkout sessions and
// turning signed webhook deliveries into model.PaymentEvent values.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/iliyamo/grant-search-mailer/internal/config"
)

// ErrNotConfigured is returned when Stripe credentials are missing.
var ErrNotConfigured = errors.New("billing: stripe not configured")

// MetadataEmailKey carries the account email on checkout sessions and
// subscriptions so later events can be matched back to an account.
const MetadataEmailKey = "email"

// Checkout creates hosted checkout sessions for the PRO plan.
type Checkout interface {
	CreateCheckoutSession(ctx context.Context, email string) (string, error)
}

// StripeCheckout creates subscription-mode Stripe Checkout sessions.
type StripeCheckout struct {
	api        *client.API
	priceID    string
	successURL string
	cancelURL  string
}

// NewCheckout returns a Stripe-backed Checkout, or a disabled one when no
// secret key is configured.
func NewCheckout(cfg config.BillingConfig) Checkout {
	if !cfg.CheckoutEnabled() {
		return disabledCheckout{}
	}
	api := &client.API{}
	api.Init(cfg.StripeSecretKey, nil)
	return &StripeCheckout{
		api:        api,
		priceID:    cfg.StripePriceID,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}
}

// CreateCheckoutSession returns the hosted checkout URL for email.
func (s *StripeCheckout) CreateCheckoutSession(ctx context.Context, email string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(s.priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataEmailKey: email},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataEmailKey, email)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe checkout: %w", err)
	}
	return sess.URL, nil
}

type disabledCheckout struct{}

func (disabledCheckout) CreateCheckoutSession(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}
