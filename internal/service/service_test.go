package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/grant-search-mailer/internal/billing"
	"github.com/iliyamo/grant-search-mailer/internal/model"
	"github.com/iliyamo/grant-search-mailer/internal/nih"
	"github.com/iliyamo/grant-search-mailer/internal/notify"
	"github.com/iliyamo/grant-search-mailer/internal/queue"
	"github.com/iliyamo/grant-search-mailer/internal/repository"
	"github.com/iliyamo/grant-search-mailer/internal/utils"
)

var (
	march = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	april = time.Date(2026, time.April, 1, 0, 0, 1, 0, time.UTC)
)

// countingStore records how many times Put is called.
type countingStore struct {
	repository.AccountStore
	puts int
}

func (c *countingStore) Put(ctx context.Context, acc model.Account) error {
	c.puts++
	return c.AccountStore.Put(ctx, acc)
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &countingStore{AccountStore: repository.NewRedisAccountStore(rdb)}
}

type fakeCheckout struct {
	url   string
	err   error
	calls int
}

func (f *fakeCheckout) CreateCheckoutSession(context.Context, string) (string, error) {
	f.calls++
	return f.url, f.err
}

type stubSearcher struct {
	projects []model.Project
	err      error
	got      []nih.SearchRequest
}

func (s *stubSearcher) Search(_ context.Context, req nih.SearchRequest) ([]model.Project, error) {
	s.got = append(s.got, req)
	return s.projects, s.err
}

type stubNotifier struct {
	err    error
	sent   []string
	counts []int
}

func (n *stubNotifier) Notify(_ context.Context, to string, projects []model.Project, _ model.Criteria) error {
	n.sent = append(n.sent, to)
	n.counts = append(n.counts, len(projects))
	return n.err
}

type stubEvents struct {
	got []queue.SearchCompletedEvent
	err error
}

func (e *stubEvents) PublishSearchCompleted(_ context.Context, ev queue.SearchCompletedEvent) error {
	e.got = append(e.got, ev)
	return e.err
}

func newAccounts(store repository.AccountStore, now time.Time) *AccountService {
	s := NewAccountService(store, utils.NewPasswordHasher(bcrypt.MinCost), &fakeCheckout{url: "https://checkout.test/s/1"}, nil)
	s.Now = func() time.Time { return now }
	return s
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newAccounts(store, march)

	acc, err := svc.Register(ctx, "a@x.com", "pw")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if acc.SubscriptionTier != model.TierFree || acc.MonthlySearchCount != 0 || !acc.CreatedAt.Equal(march) || !acc.LastResetAt.Equal(march) {
		t.Errorf("account = %+v", acc)
	}
	if acc.PasswordHash == "pw" || acc.PasswordHash == "" {
		t.Error("password was not hashed")
	}

	if _, err := svc.Register(ctx, "a@x.com", "other"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Register() error = %v, want ErrAlreadyExists", err)
	}
	stored, _ := store.Get(ctx, "a@x.com")
	if stored.PasswordHash != acc.PasswordHash {
		t.Error("duplicate registration changed the stored record")
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	svc := newAccounts(newStore(t), march)
	for _, tc := range [][2]string{{"", "pw"}, {"a@x.com", ""}, {"", ""}} {
		if _, err := svc.Register(context.Background(), tc[0], tc[1]); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Register(%q, %q) error = %v, want ErrInvalidInput", tc[0], tc[1], err)
		}
	}
}

func TestRegister_EmailIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	svc := newAccounts(newStore(t), march)
	if _, err := svc.Register(ctx, "A@x.com", "pw"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, "a@x.com", "pw"); err != nil {
		t.Fatalf("Register() of different-case email error = %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newAccounts(store, march)
	if _, err := svc.Register(ctx, "a@x.com", "pw"); err != nil {
		t.Fatal(err)
	}
	putsAfterRegister := store.puts

	if _, err := svc.Authenticate(ctx, "a@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Authenticate() wrong password error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, "b@x.com", "pw"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Authenticate() unknown email error = %v", err)
	}
	acc, err := svc.Authenticate(ctx, "a@x.com", "pw")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if acc.Email != "a@x.com" {
		t.Errorf("email = %q", acc.Email)
	}
	if store.puts != putsAfterRegister {
		t.Errorf("same-month logins wrote %d times", store.puts-putsAfterRegister)
	}
}

func TestDummyHash(t *testing.T) {
	h := utils.NewPasswordHasher(bcrypt.MinCost + 1)
	first := dummyHash(h)
	cost, err := bcrypt.Cost([]byte(first))
	if err != nil {
		t.Fatalf("dummy hash is not bcrypt: %v", err)
	}
	if cost != h.Cost {
		t.Errorf("cost = %d, want %d", cost, h.Cost)
	}
	if again := dummyHash(h); again != first {
		t.Error("dummy hash recomputed for the same cost")
	}
	if h.Verify(first, "pw") {
		t.Error("dummy hash matched a real password")
	}
}

func TestAuthenticate_WrongPasswordDoesNotRollOver(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	reg := newAccounts(store, march)
	acc, _ := reg.Register(ctx, "a@x.com", "pw")
	acc.MonthlySearchCount = 4
	_ = store.Put(ctx, acc)
	before := store.puts

	later := newAccounts(store, april)
	if _, err := later.Authenticate(ctx, "a@x.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v", err)
	}
	stored, _ := store.Get(ctx, "a@x.com")
	if stored.MonthlySearchCount != 4 || !stored.LastResetAt.Equal(march) || store.puts != before {
		t.Errorf("wrong password mutated the record: %+v", stored)
	}
}

func TestAuthenticate_RollsOverNewMonth(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	acc, _ := newAccounts(store, march).Register(ctx, "a@x.com", "pw")
	acc.MonthlySearchCount = 5
	_ = store.Put(ctx, acc)

	got, err := newAccounts(store, april).Authenticate(ctx, "a@x.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := store.Get(ctx, "a@x.com")
	if got.MonthlySearchCount != 0 || stored.MonthlySearchCount != 0 || !stored.LastResetAt.Equal(april) {
		t.Errorf("roll-over not persisted: %+v", stored)
	}
}

func TestResetCounter(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newAccounts(store, march)
	acc, _ := svc.Register(ctx, "a@x.com", "pw")
	acc.MonthlySearchCount = 3
	_ = store.Put(ctx, acc)

	svc.Now = func() time.Time { return march.Add(time.Hour) }
	got, err := svc.ResetCounter(ctx, "a@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.MonthlySearchCount != 0 || !got.LastResetAt.Equal(march.Add(time.Hour)) {
		t.Errorf("account = %+v", got)
	}
	if _, err := svc.ResetCounter(ctx, "missing@x.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResetCounter() missing error = %v", err)
	}
}

func TestUpgrade(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newAccounts(store, march)
	before, _ := svc.Register(ctx, "a@x.com", "pw")

	url, err := svc.Upgrade(ctx, "a@x.com")
	if err != nil || url != "https://checkout.test/s/1" {
		t.Fatalf("Upgrade() = %q, %v", url, err)
	}
	after, _ := store.Get(ctx, "a@x.com")
	if after.SubscriptionTier != model.TierFree || after.ExternalPaymentID != before.ExternalPaymentID {
		t.Errorf("Upgrade mutated the account: %+v", after)
	}

	if _, err := svc.Upgrade(ctx, "missing@x.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Upgrade() missing error = %v", err)
	}

	svc.Checkout = &fakeCheckout{err: billing.ErrNotConfigured}
	if _, err := svc.Upgrade(ctx, "a@x.com"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Upgrade() unconfigured error = %v", err)
	}
	svc.Checkout = &fakeCheckout{err: errors.New("stripe down")}
	if _, err := svc.Upgrade(ctx, "a@x.com"); !errors.Is(err, ErrUpstream) {
		t.Errorf("Upgrade() provider error = %v", err)
	}
}

func TestApplyPaymentConfirmation_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newAccounts(store, march)
	_, _ = svc.Register(ctx, "a@x.com", "pw")
	paid := march.Add(2 * time.Hour)

	if err := svc.ApplyPaymentConfirmation(ctx, "a@x.com", "pi_1", "sub_1", paid); err != nil {
		t.Fatal(err)
	}
	first, _ := store.Get(ctx, "a@x.com")
	puts := store.puts

	if err := svc.ApplyPaymentConfirmation(ctx, "a@x.com", "pi_1", "sub_1", paid); err != nil {
		t.Fatal(err)
	}
	second, _ := store.Get(ctx, "a@x.com")

	if first.SubscriptionTier != model.TierPro || first.ExternalPaymentID != "pi_1" || first.ExternalSubscriptionID != "sub_1" {
		t.Errorf("first = %+v", first)
	}
	if first.LastPaymentAt == nil || !first.LastPaymentAt.Equal(paid) {
		t.Errorf("LastPaymentAt = %v", first.LastPaymentAt)
	}
	if second.SubscriptionTier != first.SubscriptionTier || second.ExternalPaymentID != first.ExternalPaymentID ||
		second.ExternalSubscriptionID != first.ExternalSubscriptionID || !second.LastPaymentAt.Equal(*first.LastPaymentAt) {
		t.Errorf("second apply changed the record: %+v vs %+v", second, first)
	}
	if store.puts != puts {
		t.Errorf("second apply wrote to the store")
	}
}

func TestApplyPaymentConfirmation_UnknownAccountDropped(t *testing.T) {
	store := newStore(t)
	svc := newAccounts(store, march)
	if err := svc.ApplyPaymentConfirmation(context.Background(), "ghost@x.com", "pi_1", "", march); err != nil {
		t.Fatalf("error = %v, want nil", err)
	}
	if ok, _ := store.Exists(context.Background(), "ghost@x.com"); ok {
		t.Error("confirmation created an account")
	}
}

func TestApplyPaymentEvent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newAccounts(store, march)
	_, _ = svc.Register(ctx, "a@x.com", "pw")

	if err := svc.ApplyPaymentEvent(ctx, model.PaymentEvent{Kind: model.PaymentCheckoutCompleted, Email: "a@x.com", SubscriptionID: "sub_1", OccurredAt: march}); err != nil {
		t.Fatal(err)
	}
	if err := svc.ApplyPaymentEvent(ctx, model.PaymentEvent{Kind: model.PaymentSubscriptionCancelled, Email: "a@x.com", SubscriptionID: "sub_1"}); err != nil {
		t.Fatal(err)
	}
	acc, _ := store.Get(ctx, "a@x.com")
	if acc.SubscriptionTier != model.TierPro {
		t.Errorf("cancellation changed tier to %s", acc.SubscriptionTier)
	}

	renewed := april
	if err := svc.ApplyPaymentEvent(ctx, model.PaymentEvent{Kind: model.PaymentRecurringSucceeded, Email: "a@x.com", PaymentID: "pi_2", OccurredAt: renewed}); err != nil {
		t.Fatal(err)
	}
	acc, _ = store.Get(ctx, "a@x.com")
	if acc.ExternalPaymentID != "pi_2" || acc.LastPaymentAt == nil || !acc.LastPaymentAt.Equal(renewed) {
		t.Errorf("renewal not recorded: %+v", acc)
	}

	if err := svc.ApplyPaymentEvent(ctx, model.PaymentEvent{Kind: "refund", Email: "a@x.com"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown kind error = %v", err)
	}
}

func seedAccount(t *testing.T, store repository.AccountStore, tier model.Tier, count int, lastReset time.Time) {
	t.Helper()
	acc := model.NewAccount("a@x.com", "hash", lastReset)
	acc.SubscriptionTier = tier
	acc.MonthlySearchCount = count
	if err := store.Put(context.Background(), acc); err != nil {
		t.Fatal(err)
	}
}

func newGateway(store repository.AccountStore, s Searcher, n notify.Notifier, now time.Time) *SearchGateway {
	g := NewSearchGateway(store, s, n, nil, nil)
	g.Now = func() time.Time { return now }
	return g
}

func TestSearch_QuotaBoundary(t *testing.T) {
	tests := []struct {
		name    string
		tier    model.Tier
		count   int
		wantErr bool
		limit   int
	}{
		{"free below limit", model.TierFree, 4, false, 5},
		{"free at limit", model.TierFree, 5, true, 5},
		{"pro below limit", model.TierPro, 14, false, 15},
		{"pro at limit", model.TierPro, 15, true, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			seedAccount(t, store, tt.tier, tt.count, march)
			searcher := &stubSearcher{projects: []model.Project{{ProjectTitle: "p"}}}
			g := newGateway(store, searcher, &stubNotifier{}, march)

			_, err := g.Search(context.Background(), "a@x.com", model.Criteria{"text": "x"})
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Search() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrQuotaExceeded) {
				t.Fatalf("Search() error = %v, want ErrQuotaExceeded", err)
			}
			if !strings.Contains(err.Error(), strconv.Itoa(tt.limit)) {
				t.Errorf("error %q does not carry limit %d", err, tt.limit)
			}
			if len(searcher.got) != 0 {
				t.Error("searcher called over quota")
			}
			stored, _ := store.Get(context.Background(), "a@x.com")
			if stored.MonthlySearchCount != tt.count {
				t.Errorf("count = %d, want %d", stored.MonthlySearchCount, tt.count)
			}
		})
	}
}

func TestSearch_RequestShape(t *testing.T) {
	tests := []struct {
		tier      model.Tier
		wantLimit int
	}{
		{model.TierFree, 3},
		{model.TierPro, 10},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			store := newStore(t)
			seedAccount(t, store, tt.tier, 0, march)
			searcher := &stubSearcher{}
			g := newGateway(store, searcher, &stubNotifier{}, march)
			criteria := model.Criteria{"text": "cancer", "fiscal_years": []int{2025}, "limit": 500}

			if _, err := g.Search(context.Background(), "a@x.com", criteria); err != nil {
				t.Fatal(err)
			}
			req := searcher.got[0]
			if req.Limit != tt.wantLimit || req.Offset != 0 || req.SortField != "project_start_date" || req.SortOrder != "desc" {
				t.Errorf("request = %+v", req)
			}
			if _, ok := req.Criteria["text"]; ok {
				t.Error("text key was not removed")
			}
			adv, ok := req.Criteria["advanced_text_search"].(map[string]any)
			if !ok || adv["search_text"] != "cancer" || adv["operator"] != "and" || adv["search_field"] != "projecttitle,terms,abstracttext" {
				t.Errorf("advanced_text_search = %#v", req.Criteria["advanced_text_search"])
			}
			if _, ok := criteria["advanced_text_search"]; ok {
				t.Error("caller criteria were modified")
			}
		})
	}
}

func TestSearch_RollOverThenIncrement(t *testing.T) {
	store := newStore(t)
	seedAccount(t, store, model.TierFree, 5, march)
	g := newGateway(store, &stubSearcher{}, &stubNotifier{}, april)

	res, err := g.Search(context.Background(), "a@x.com", nil)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	stored, _ := store.Get(context.Background(), "a@x.com")
	if stored.MonthlySearchCount != 1 || !stored.LastResetAt.Equal(april) {
		t.Errorf("stored = %+v", stored)
	}
	if res.Remaining != 4 {
		t.Errorf("Remaining = %d", res.Remaining)
	}
}

func TestSearch_UpstreamFailureLeavesCount(t *testing.T) {
	store := newStore(t)
	seedAccount(t, store, model.TierFree, 2, march)
	notifier := &stubNotifier{}
	g := newGateway(store, &stubSearcher{err: nih.ErrBadStatus}, notifier, march)

	if _, err := g.Search(context.Background(), "a@x.com", nil); !errors.Is(err, ErrUpstream) {
		t.Fatalf("Search() error = %v, want ErrUpstream", err)
	}
	stored, _ := store.Get(context.Background(), "a@x.com")
	if stored.MonthlySearchCount != 2 {
		t.Errorf("count = %d, want 2", stored.MonthlySearchCount)
	}
	if len(notifier.sent) != 0 {
		t.Error("notifier called after upstream failure")
	}
}

func TestSearch_NotifierFailureIsWarning(t *testing.T) {
	store := newStore(t)
	seedAccount(t, store, model.TierFree, 0, march)
	events := &stubEvents{err: errors.New("broker down")}
	g := newGateway(store, &stubSearcher{}, &stubNotifier{err: errors.New("smtp down")}, march)
	g.Events = events

	res, err := g.Search(context.Background(), "a@x.com", nil)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Warning == "" {
		t.Error("Warning is empty")
	}
	if res.Account.MonthlySearchCount != 1 {
		t.Errorf("count = %d, want 1", res.Account.MonthlySearchCount)
	}
	if len(events.got) != 1 || !events.got[0].NotifierFailed {
		t.Errorf("events = %+v", events.got)
	}
}

func TestSearch_UnknownAccount(t *testing.T) {
	g := newGateway(newStore(t), &stubSearcher{}, &stubNotifier{}, march)
	if _, err := g.Search(context.Background(), "nobody@x.com", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Search() error = %v, want ErrNotFound", err)
	}
}

func TestEndToEnd_RegisterLoginSearch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	accounts := newAccounts(store, march)
	projects := []model.Project{{ProjectTitle: "one"}, {ProjectTitle: "two"}}
	notifier := &stubNotifier{}
	events := &stubEvents{}
	g := newGateway(store, &stubSearcher{projects: projects}, notifier, march)
	g.Events = events

	if _, err := accounts.Register(ctx, "a@x.com", "pw"); err != nil {
		t.Fatal(err)
	}
	login, err := accounts.Authenticate(ctx, "a@x.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if login.SubscriptionTier != model.TierFree || login.MonthlySearchCount != 0 {
		t.Errorf("login account = %+v, want FREE with count 0", login)
	}
	res, err := g.Search(ctx, "a@x.com", model.Criteria{"text": "cancer"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Projects) != 2 || res.Account.MonthlySearchCount != 1 || res.Remaining != 4 {
		t.Errorf("result = %+v", res)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "a@x.com" || notifier.counts[0] != 2 {
		t.Errorf("notifier sent = %v with counts %v", notifier.sent, notifier.counts)
	}
	if len(events.got) != 1 || events.got[0].ResultCount != 2 || events.got[0].SearchesUsed != 1 {
		t.Errorf("events = %+v", events.got)
	}
}
