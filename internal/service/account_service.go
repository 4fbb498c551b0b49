package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/grant-search-mailer/internal/billing"
	"github.com/iliyamo/grant-search-mailer/internal/model"
	"github.com/iliyamo/grant-search-mailer/internal/quota"
	"github.com/iliyamo/grant-search-mailer/internal/repository"
	"github.com/iliyamo/grant-search-mailer/internal/utils"
)

// AccountService implements registration, login, counter reset, upgrade and
// payment confirmation on top of an AccountStore.
type AccountService struct {
	Store    repository.AccountStore
	Hasher   utils.PasswordHasher
	Checkout billing.Checkout
	Log      *zap.Logger
	Now      func() time.Time
}

func NewAccountService(store repository.AccountStore, hasher utils.PasswordHasher, checkout billing.Checkout, log *zap.Logger) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{Store: store, Hasher: hasher, Checkout: checkout, Log: log}
}

func (s *AccountService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *AccountService) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Register creates a FREE account with a zero counter.
func (s *AccountService) Register(ctx context.Context, email, password string) (model.Account, error) {
	if email == "" || password == "" {
		return model.Account{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	exists, err := s.Store.Exists(ctx, email)
	if err != nil {
		return model.Account{}, fmt.Errorf("check account: %w", err)
	}
	if exists {
		return model.Account{}, ErrAlreadyExists
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return model.Account{}, fmt.Errorf("hash password: %w", err)
	}
	acc := model.NewAccount(email, hash, s.now())
	if err := s.Store.Create(ctx, acc); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return model.Account{}, ErrAlreadyExists
		}
		return model.Account{}, fmt.Errorf("create account: %w", err)
	}
	s.log().Info("account registered", zap.String("email", email))
	return acc, nil
}

// Authenticate checks the password and applies a pending month roll-over.
// A wrong password never writes to the store.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (model.Account, error) {
	if email == "" || password == "" {
		return model.Account{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	acc, err := s.load(ctx, email)
	if errors.Is(err, ErrNotFound) {
		// Burn the same bcrypt work as a real comparison.
		s.Hasher.Verify(dummyHash(s.Hasher), password)
		return model.Account{}, err
	}
	if err != nil {
		return model.Account{}, err
	}
	if !s.Hasher.Verify(acc.PasswordHash, password) {
		return model.Account{}, ErrInvalidCredentials
	}
	if quota.RollOver(&acc, s.now()) {
		if err := s.Store.Put(ctx, acc); err != nil {
			return model.Account{}, fmt.Errorf("persist roll-over: %w", err)
		}
		s.log().Info("monthly counter rolled over", zap.String("email", email))
	}
	return acc, nil
}

// dummyHashes caches one throwaway bcrypt hash per cost.
var dummyHashes sync.Map

func dummyHash(h utils.PasswordHasher) string {
	if v, ok := dummyHashes.Load(h.Cost); ok {
		return v.(string)
	}
	hash, err := h.Hash("grant-search-mailer/no-such-account")
	if err != nil {
		return ""
	}
	v, _ := dummyHashes.LoadOrStore(h.Cost, hash)
	return v.(string)
}

// Profile returns the stored account without writing to it.
func (s *AccountService) Profile(ctx context.Context, email string) (model.Account, error) {
	return s.load(ctx, email)
}

// ResetCounter zeroes the monthly counter unconditionally.
func (s *AccountService) ResetCounter(ctx context.Context, email string) (model.Account, error) {
	if email == "" {
		return model.Account{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	acc, err := s.load(ctx, email)
	if err != nil {
		return model.Account{}, err
	}
	acc.MonthlySearchCount = 0
	acc.LastResetAt = s.now()
	if err := s.Store.Put(ctx, acc); err != nil {
		return model.Account{}, fmt.Errorf("persist reset: %w", err)
	}
	return acc, nil
}

// Upgrade opens a checkout session for the PRO plan and returns its URL.
// The account is left untouched until the payment is confirmed.
func (s *AccountService) Upgrade(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if _, err := s.load(ctx, email); err != nil {
		return "", err
	}
	if s.Checkout == nil {
		return "", fmt.Errorf("%w: %v", ErrConfiguration, billing.ErrNotConfigured)
	}
	url, err := s.Checkout.CreateCheckoutSession(ctx, email)
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			return "", fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		s.log().Error("checkout session failed", zap.String("email", email), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return url, nil
}

// ApplyPaymentConfirmation marks the account PRO and records the payment
// identifiers. Repeating a confirmation leaves the record unchanged, and a
// confirmation for an unknown email is logged and dropped.
func (s *AccountService) ApplyPaymentConfirmation(ctx context.Context, email, paymentID, subscriptionID string, paidAt time.Time) error {
	if email == "" {
		s.log().Warn("payment confirmation without email dropped",
			zap.String("payment_id", paymentID), zap.String("subscription_id", subscriptionID))
		return nil
	}
	acc, err := s.load(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.log().Warn("payment confirmation for unknown account dropped", zap.String("email", email))
		return nil
	}
	if err != nil {
		return err
	}

	changed := false
	if acc.SubscriptionTier != model.TierPro {
		acc.SubscriptionTier = model.TierPro
		changed = true
	}
	if paymentID != "" && acc.ExternalPaymentID != paymentID {
		acc.ExternalPaymentID = paymentID
		changed = true
	}
	if subscriptionID != "" && acc.ExternalSubscriptionID != subscriptionID {
		acc.ExternalSubscriptionID = subscriptionID
		changed = true
	}
	if !paidAt.IsZero() && (acc.LastPaymentAt == nil || paidAt.After(*acc.LastPaymentAt)) {
		t := paidAt.UTC()
		acc.LastPaymentAt = &t
		changed = true
	}
	if !changed {
		return nil
	}
	if err := s.Store.Put(ctx, acc); err != nil {
		return fmt.Errorf("persist payment: %w", err)
	}
	s.log().Info("payment applied",
		zap.String("email", email),
		zap.String("payment_id", paymentID),
		zap.String("subscription_id", subscriptionID))
	return nil
}

// ApplyPaymentEvent routes a provider-neutral payment event. Cancellations
// are acknowledged and logged; the tier stays PRO.
func (s *AccountService) ApplyPaymentEvent(ctx context.Context, ev model.PaymentEvent) error {
	switch ev.Kind {
	case model.PaymentCheckoutCompleted, model.PaymentRecurringSucceeded:
		return s.ApplyPaymentConfirmation(ctx, ev.Email, ev.PaymentID, ev.SubscriptionID, ev.OccurredAt)
	case model.PaymentSubscriptionCancelled:
		s.log().Info("subscription cancelled; tier unchanged",
			zap.String("email", ev.Email), zap.String("subscription_id", ev.SubscriptionID))
		return nil
	default:
		return fmt.Errorf("%w: unknown payment event kind %q", ErrInvalidInput, ev.Kind)
	}
}

func (s *AccountService) load(ctx context.Context, email string) (model.Account, error) {
	acc, err := s.Store.Get(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("load account: %w", err)
	}
	return acc, nil
}
