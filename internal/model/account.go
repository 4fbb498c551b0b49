package model

import "time"

// Tier is a subscription level. It decides the quota an account gets.
type Tier string

const (
	TierFree Tier = "FREE"
	TierPro  Tier = "PRO"
)

// Account is the persisted per-user record, keyed by email exactly as the
// user typed it. The JSON form is the storage encoding and includes the
// password hash, so handlers must only ever serialize View().
type Account struct {
	Email                  string     `json:"email"`
	PasswordHash           string     `json:"password_hash"`
	SubscriptionTier       Tier       `json:"subscription_tier"`
	MonthlySearchCount     int        `json:"monthly_search_count"`
	CreatedAt              time.Time  `json:"created_at"`
	LastResetAt            time.Time  `json:"last_reset_at"`
	ExternalPaymentID      string     `json:"external_payment_id,omitempty"`
	ExternalSubscriptionID string     `json:"external_subscription_id,omitempty"`
	LastPaymentAt          *time.Time `json:"last_payment_at,omitempty"`
}

// AccountView is the caller-facing projection of an Account.
type AccountView struct {
	Email                  string     `json:"email"`
	SubscriptionTier       Tier       `json:"subscription_tier"`
	MonthlySearchCount     int        `json:"monthly_search_count"`
	CreatedAt              time.Time  `json:"created_at"`
	LastResetAt            time.Time  `json:"last_reset_at"`
	ExternalSubscriptionID string     `json:"external_subscription_id,omitempty"`
	LastPaymentAt          *time.Time `json:"last_payment_at,omitempty"`
}

// NewAccount returns a FREE account with a zero counter, created now.
func NewAccount(email, passwordHash string, now time.Time) Account {
	return Account{
		Email:              email,
		PasswordHash:       passwordHash,
		SubscriptionTier:   TierFree,
		MonthlySearchCount: 0,
		CreatedAt:          now,
		LastResetAt:        now,
	}
}

// View drops the password hash and payment identifiers.
func (a Account) View() AccountView {
	return AccountView{
		Email:                  a.Email,
		SubscriptionTier:       a.SubscriptionTier,
		MonthlySearchCount:     a.MonthlySearchCount,
		CreatedAt:              a.CreatedAt,
		LastResetAt:            a.LastResetAt,
		ExternalSubscriptionID: a.ExternalSubscriptionID,
		LastPaymentAt:          a.LastPaymentAt,
	}
}
