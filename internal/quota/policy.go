// Package quota holds the tier limits and the monthly counter rules. Every
// function here is pure; callers pass "now" in.
package quota

import (
	"strings"
	"time"

	"github.com/iliyamo/grant-search-mailer/internal/model"
)

const (
	FreeSearchesPerMonth = 5
	ProSearchesPerMonth  = 15

	FreeResultsPerSearch = 3
	ProResultsPerSearch  = 10
)

// Limits is the quota pair granted by a tier.
type Limits struct {
	MaxSearchesPerMonth int `json:"max_searches_per_month"`
	MaxResultsPerSearch int `json:"max_results_per_search"`
}

// For returns the limits of a tier. Unknown or empty tiers get FREE limits.
func For(tier model.Tier) Limits {
	switch model.Tier(strings.ToUpper(string(tier))) {
	case model.TierPro:
		return Limits{MaxSearchesPerMonth: ProSearchesPerMonth, MaxResultsPerSearch: ProResultsPerSearch}
	default:
		return Limits{MaxSearchesPerMonth: FreeSearchesPerMonth, MaxResultsPerSearch: FreeResultsPerSearch}
	}
}

func MaxSearchesPerMonth(tier model.Tier) int { return For(tier).MaxSearchesPerMonth }

func MaxResultsPerSearch(tier model.Tier) int { return For(tier).MaxResultsPerSearch }

// IsWithinQuota reports whether one more search is allowed. The search that
// brings count up to the limit is the last one permitted.
func IsWithinQuota(count int, tier model.Tier) bool {
	return count < MaxSearchesPerMonth(tier)
}

// Remaining is the number of searches left this month, never negative.
func Remaining(count int, tier model.Tier) int {
	left := MaxSearchesPerMonth(tier) - count
	if left < 0 {
		return 0
	}
	return left
}

// NeedsReset reports whether now falls in a different calendar month than
// lastReset. Both are compared in UTC.
func NeedsReset(now, lastReset time.Time) bool {
	n, l := now.UTC(), lastReset.UTC()
	return n.Year() != l.Year() || n.Month() != l.Month()
}

// RollOver zeroes the monthly counter if a new month has started and reports
// whether it changed the account.
func RollOver(acc *model.Account, now time.Time) bool {
	if !NeedsReset(now, acc.LastResetAt) {
		return false
	}
	acc.MonthlySearchCount = 0
	acc.LastResetAt = now
	return true
}
