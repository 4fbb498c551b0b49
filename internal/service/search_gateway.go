package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/grant-search-mailer/internal/model"
	"github.com/iliyamo/grant-search-mailer/internal/nih"
	"github.com/iliyamo/grant-search-mailer/internal/notify"
	"github.com/iliyamo/grant-search-mailer/internal/queue"
	"github.com/iliyamo/grant-search-mailer/internal/quota"
	"github.com/iliyamo/grant-search-mailer/internal/repository"
)

// Searcher runs one RePORTER search.
type Searcher interface {
	Search(ctx context.Context, req nih.SearchRequest) ([]model.Project, error)
}

// EventPublisher receives a best-effort event after each successful search.
type EventPublisher interface {
	PublishSearchCompleted(ctx context.Context, ev queue.SearchCompletedEvent) error
}

// SearchResult is what a successful gated search hands back.
type SearchResult struct {
	Projects  []model.Project
	Account   model.Account
	Limits    quota.Limits
	Remaining int
	// Warning is set when the results were counted but could not be mailed.
	Warning string
}

// SearchGateway runs the quota-gated search: load, roll over, check the
// quota, search, count, then mail.
type SearchGateway struct {
	Store    repository.AccountStore
	Searcher Searcher
	Notifier notify.Notifier
	Events   EventPublisher
	Log      *zap.Logger
	Now      func() time.Time
}

func NewSearchGateway(store repository.AccountStore, searcher Searcher, notifier notify.Notifier, events EventPublisher, log *zap.Logger) *SearchGateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &SearchGateway{Store: store, Searcher: searcher, Notifier: notifier, Events: events, Log: log}
}

// Search runs criteria for email. The counter is incremented only after
// RePORTER answers successfully; a mail failure turns into a warning.
func (g *SearchGateway) Search(ctx context.Context, email string, criteria model.Criteria) (SearchResult, error) {
	log := g.Log
	if log == nil {
		log = zap.NewNop()
	}
	if email == "" {
		return SearchResult{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	acc, err := g.Store.Get(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return SearchResult{}, ErrNotFound
	}
	if err != nil {
		return SearchResult{}, fmt.Errorf("load account: %w", err)
	}

	now := g.now()
	if quota.RollOver(&acc, now) {
		if err := g.Store.Put(ctx, acc); err != nil {
			return SearchResult{}, fmt.Errorf("persist roll-over: %w", err)
		}
	}

	limits := quota.For(acc.SubscriptionTier)
	if !quota.IsWithinQuota(acc.MonthlySearchCount, acc.SubscriptionTier) {
		return SearchResult{}, fmt.Errorf("%w: %s tier allows %d searches per month",
			ErrQuotaExceeded, acc.SubscriptionTier, limits.MaxSearchesPerMonth)
	}

	projects, err := g.Searcher.Search(ctx, nih.SearchRequest{
		Criteria:  nih.NormalizeCriteria(criteria),
		Offset:    0,
		Limit:     limits.MaxResultsPerSearch,
		SortField: nih.SortProjectStartDate,
		SortOrder: nih.SortDescending,
	})
	if err != nil {
		log.Error("reporter search failed", zap.String("email", email), zap.Error(err))
		return SearchResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	acc.MonthlySearchCount++
	if err := g.Store.Put(ctx, acc); err != nil {
		return SearchResult{}, fmt.Errorf("persist search count: %w", err)
	}

	res := SearchResult{
		Projects:  projects,
		Account:   acc,
		Limits:    limits,
		Remaining: quota.Remaining(acc.MonthlySearchCount, acc.SubscriptionTier),
	}
	if err := g.notify(ctx, email, projects, criteria); err != nil {
		log.Warn("results not mailed", zap.String("email", email), zap.Error(err))
		res.Warning = "search succeeded but the results email could not be sent"
		if errors.Is(err, notify.ErrNotConfigured) {
			res.Warning = "search succeeded but email delivery is not configured"
		}
	}

	if g.Events != nil {
		ev := queue.SearchCompletedEvent{
			Email:          email,
			Tier:           acc.SubscriptionTier,
			ResultCount:    len(projects),
			SearchesUsed:   acc.MonthlySearchCount,
			SearchesLimit:  limits.MaxSearchesPerMonth,
			NotifierFailed: res.Warning != "",
			CompletedAt:    now,
		}
		if err := g.Events.PublishSearchCompleted(ctx, ev); err != nil {
			log.Warn("search event not published", zap.String("email", email), zap.Error(err))
		}
	}
	return res, nil
}

func (g *SearchGateway) notify(ctx context.Context, to string, projects []model.Project, criteria model.Criteria) error {
	if g.Notifier == nil {
		return notify.ErrNotConfigured
	}
	return g.Notifier.Notify(ctx, to, projects, criteria)
}

func (g *SearchGateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}
