package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/grant-search-mailer/internal/middleware"
	"github.com/iliyamo/grant-search-mailer/internal/model"
	"github.com/iliyamo/grant-search-mailer/internal/quota"
	"github.com/iliyamo/grant-search-mailer/internal/service"
)

// ProfileHandler serves GET /v1/me behind JWTAuth.
type ProfileHandler struct {
	Accounts *service.AccountService
	Now      func() time.Time
}

func NewProfileHandler(accounts *service.AccountService) *ProfileHandler {
	return &ProfileHandler{Accounts: accounts}
}

type meResp struct {
	Account           model.AccountView `json:"account"`
	Limits            quota.Limits      `json:"limits"`
	SearchesUsed      int               `json:"searches_used"`
	SearchesRemaining int               `json:"searches_remaining"`
}

// Me reports the caller's account and this month's usage. A pending
// roll-over is reflected in the answer but not written back.
func (h *ProfileHandler) Me(c echo.Context) error {
	email := middleware.Email(c)
	if email == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), accountTimeout)
	defer cancel()

	acc, err := h.Accounts.Profile(ctx, email)
	if errors.Is(err, service.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	now := time.Now().UTC()
	if h.Now != nil {
		now = h.Now()
	}
	quota.RollOver(&acc, now)

	return c.JSON(http.StatusOK, meResp{
		Account:           acc.View(),
		Limits:            quota.For(acc.SubscriptionTier),
		SearchesUsed:      acc.MonthlySearchCount,
		SearchesRemaining: quota.Remaining(acc.MonthlySearchCount, acc.SubscriptionTier),
	})
}
