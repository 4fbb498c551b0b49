package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/grant-search-mailer/internal/config"
	"github.com/iliyamo/grant-search-mailer/internal/model"
	"github.com/iliyamo/grant-search-mailer/internal/quota"
	"github.com/iliyamo/grant-search-mailer/internal/service"
	"github.com/iliyamo/grant-search-mailer/internal/utils"
)

const adminTokenHeader = "X-Admin-Token"

const (
	accountTimeout = 5 * time.Second
	searchTimeout  = 45 * time.Second
)

// ActionHandler serves POST /api/action, the single entry point of the web
// page. The request's action field selects one of the Action variants.
type ActionHandler struct {
	Cfg      config.Config
	Accounts *service.AccountService
	Search   *service.SearchGateway
	Log      *zap.Logger
}

func NewActionHandler(cfg config.Config, accounts *service.AccountService, search *service.SearchGateway, log *zap.Logger) *ActionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ActionHandler{Cfg: cfg, Accounts: accounts, Search: search, Log: log}
}

// ----- request / action variants -----

type actionReq struct {
	Action   string         `json:"action"`
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Criteria model.Criteria `json:"criteria"`
}

// Action is one of RegisterAction, LoginAction, SearchAction, UpgradeAction
// or ResetAction.
type Action interface{ isAction() }

type RegisterAction struct{ Email, Password string }
type LoginAction struct{ Email, Password string }
type SearchAction struct {
	Email    string
	Criteria model.Criteria
}
type UpgradeAction struct{ Email string }
type ResetAction struct{ Email string }

func (RegisterAction) isAction() {}
func (LoginAction) isAction()    {}
func (SearchAction) isAction()   {}
func (UpgradeAction) isAction()  {}
func (ResetAction) isAction()    {}

var errUnknownAction = errors.New("unknown action")

func parseAction(req actionReq) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "register":
		return RegisterAction{Email: req.Email, Password: req.Password}, nil
	case "login":
		return LoginAction{Email: req.Email, Password: req.Password}, nil
	case "search":
		return SearchAction{Email: req.Email, Criteria: req.Criteria}, nil
	case "upgrade":
		return UpgradeAction{Email: req.Email}, nil
	case "reset":
		return ResetAction{Email: req.Email}, nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownAction, req.Action)
}

// ----- response -----

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type actionResp struct {
	Success           bool               `json:"success"`
	Message           string             `json:"message,omitempty"`
	Account           *model.AccountView `json:"account,omitempty"`
	Token             *tokenPart         `json:"token,omitempty"`
	ResultCount       *int               `json:"result_count,omitempty"`
	SearchesRemaining *int               `json:"searches_remaining,omitempty"`
	Limits            *quota.Limits      `json:"limits,omitempty"`
	CheckoutURL       string             `json:"checkout_url,omitempty"`
	Warning           string             `json:"warning,omitempty"`
	Error             string             `json:"error,omitempty"`
}

func accountPart(acc model.Account) *model.AccountView {
	v := acc.View()
	return &v
}

func intPtr(n int) *int { return &n }

// Handle decodes the request and dispatches on its action.
func (h *ActionHandler) Handle(c echo.Context) error {
	var req actionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, actionResp{Error: "invalid body"})
	}
	action, err := parseAction(req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, actionResp{Error: err.Error()})
	}

	if _, ok := action.(ResetAction); ok {
		if status, msg, ok := h.authorizeAdmin(c); !ok {
			return c.JSON(status, actionResp{Error: msg})
		}
	}

	ctx := c.Request().Context()
	var resp actionResp
	switch a := action.(type) {
	case RegisterAction:
		resp, err = h.register(ctx, a)
	case LoginAction:
		resp, err = h.login(ctx, a)
	case SearchAction:
		resp, err = h.search(ctx, a)
	case UpgradeAction:
		resp, err = h.upgrade(ctx, a)
	case ResetAction:
		resp, err = h.reset(ctx, a)
	default:
		err = fmt.Errorf("unhandled action %T", action)
	}
	if err != nil {
		status, msg := h.errorStatus(req.Action, err)
		return c.JSON(status, actionResp{Error: msg})
	}
	resp.Success = true
	return c.JSON(http.StatusOK, resp)
}

func (h *ActionHandler) register(ctx context.Context, a RegisterAction) (actionResp, error) {
	ctx, cancel := context.WithTimeout(ctx, accountTimeout)
	defer cancel()

	acc, err := h.Accounts.Register(ctx, a.Email, a.Password)
	if err != nil {
		return actionResp{}, err
	}
	tok, err := h.issue(acc)
	if err != nil {
		return actionResp{}, err
	}
	return actionResp{Message: "account created", Account: accountPart(acc), Token: tok}, nil
}

func (h *ActionHandler) login(ctx context.Context, a LoginAction) (actionResp, error) {
	ctx, cancel := context.WithTimeout(ctx, accountTimeout)
	defer cancel()

	acc, err := h.Accounts.Authenticate(ctx, a.Email, a.Password)
	if errors.Is(err, service.ErrNotFound) {
		err = service.ErrInvalidCredentials
	}
	if err != nil {
		return actionResp{}, err
	}
	tok, err := h.issue(acc)
	if err != nil {
		return actionResp{}, err
	}
	limits := quota.For(acc.SubscriptionTier)
	return actionResp{
		Message:           "logged in",
		Account:           accountPart(acc),
		Token:             tok,
		Limits:            &limits,
		SearchesRemaining: intPtr(quota.Remaining(acc.MonthlySearchCount, acc.SubscriptionTier)),
	}, nil
}

func (h *ActionHandler) search(ctx context.Context, a SearchAction) (actionResp, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	res, err := h.Search.Search(ctx, a.Email, a.Criteria)
	if err != nil {
		return actionResp{}, err
	}
	msg := fmt.Sprintf("%d project(s) found; results sent to %s", len(res.Projects), a.Email)
	if res.Warning != "" {
		msg = fmt.Sprintf("%d project(s) found", len(res.Projects))
	}
	return actionResp{
		Message:           msg,
		Account:           accountPart(res.Account),
		ResultCount:       intPtr(len(res.Projects)),
		SearchesRemaining: intPtr(res.Remaining),
		Limits:            &res.Limits,
		Warning:           res.Warning,
	}, nil
}

func (h *ActionHandler) upgrade(ctx context.Context, a UpgradeAction) (actionResp, error) {
	ctx, cancel := context.WithTimeout(ctx, accountTimeout*2)
	defer cancel()

	url, err := h.Accounts.Upgrade(ctx, a.Email)
	if err != nil {
		return actionResp{}, err
	}
	return actionResp{Message: "continue to checkout", CheckoutURL: url}, nil
}

func (h *ActionHandler) reset(ctx context.Context, a ResetAction) (actionResp, error) {
	ctx, cancel := context.WithTimeout(ctx, accountTimeout)
	defer cancel()

	acc, err := h.Accounts.ResetCounter(ctx, a.Email)
	if err != nil {
		return actionResp{}, err
	}
	return actionResp{
		Message:           "monthly search count reset",
		Account:           accountPart(acc),
		SearchesRemaining: intPtr(quota.Remaining(acc.MonthlySearchCount, acc.SubscriptionTier)),
	}, nil
}

// authorizeAdmin checks the admin token sent as X-Admin-Token or as a
// Bearer credential. Administrative actions are refused outright when no
// ADMIN_TOKEN is configured.
func (h *ActionHandler) authorizeAdmin(c echo.Context) (int, string, bool) {
	if h.Cfg.AdminToken == "" {
		return http.StatusForbidden, "administrative actions are disabled", false
	}
	got := c.Request().Header.Get(adminTokenHeader)
	if got == "" {
		if auth := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
			got = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	if got == "" {
		return http.StatusUnauthorized, "admin token required", false
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.Cfg.AdminToken)) != 1 {
		return http.StatusForbidden, "forbidden", false
	}
	return 0, "", true
}

func (h *ActionHandler) issue(acc model.Account) (*tokenPart, error) {
	tok, err := utils.NewAccessToken(h.Cfg.JWTSecret, acc.Email, string(acc.SubscriptionTier), h.Cfg.AccessTTLMin)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &tokenPart{Token: tok.Token, Expires: tok.Exp}, nil
}

// errorStatus maps service errors to a status and a caller-safe message.
// Upstream, configuration and unexpected errors are logged in full and
// answered generically.
func (h *ActionHandler) errorStatus(action string, err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrAlreadyExists):
		return http.StatusConflict, "an account with this email already exists"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "account not found"
	case errors.Is(err, service.ErrQuotaExceeded):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrUpstream):
		h.Log.Error("upstream failure", zap.String("action", action), zap.Error(err))
		return http.StatusBadGateway, "an external service is unavailable, please try again later"
	case errors.Is(err, service.ErrConfiguration):
		h.Log.Error("feature not configured", zap.String("action", action), zap.Error(err))
		return http.StatusServiceUnavailable, "this feature is not available right now"
	}
	h.Log.Error("action failed", zap.String("action", action), zap.Error(err))
	return http.StatusInternalServerError, "internal error"
}
