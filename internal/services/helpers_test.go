package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/events"
	"ledger/internal/ports"
	"ledger/internal/storage/memory"
)

var testNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

var errBoom = errors.New("boom")

// flakyStore fails selected aggregate writes of the wrapped memory store.
type flakyStore struct {
	*memory.Store
	incrementFailures atomic.Int32
	failSetSpent      atomic.Bool
}

func (s *flakyStore) IncrementSpent(ctx context.Context, ownerID string, period core.PeriodKey, category core.Category, delta core.Money) error {
	if s.incrementFailures.Load() > 0 {
		s.incrementFailures.Add(-1)
		return errBoom
	}
	return s.Store.IncrementSpent(ctx, ownerID, period, category, delta)
}

func (s *flakyStore) SetSpent(ctx context.Context, ownerID string, period core.PeriodKey, total core.Money, byCategory map[core.Category]core.Money) error {
	if s.failSetSpent.Load() {
		return errBoom
	}
	return s.Store.SetSpent(ctx, ownerID, period, total, byCategory)
}

type failingRewards struct{}

func (failingRewards) AwardXP(context.Context, string, string) (ports.Reward, error) {
	return ports.Reward{}, errBoom
}

type failingInsights struct{}

func (failingInsights) GenerateInsights(context.Context, core.Expense, []core.Expense, *core.Budget) ([]ports.Insight, error) {
	return nil, errBoom
}

type failingRecurring struct{}

func (failingRecurring) DetectAndCreate(context.Context, string, string, core.Money, string, time.Time) (ports.RecurringResult, error) {
	panic("recurring detector crashed")
}

type failingAudit struct{}

func (failingAudit) LogAction(context.Context, string, string, string, string, map[string]any) error {
	return errBoom
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []ports.Notification
}

func (n *recordingNotifier) Send(_ context.Context, _ string, msg ports.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func newLedger(t *testing.T, store ports.Store, mutate func(*Deps)) *LedgerService {
	t.Helper()
	d := Deps{
		Store: store,
		Bus:   events.NewBus(events.DefaultHistorySize, nil),
		Cache: cache.NewStore(time.Minute),
		Now:   func() time.Time { return testNow },
	}
	d.Reconciler = NewReconciler(store, store, d.Bus, nil)
	if mutate != nil {
		mutate(&d)
	}
	return NewLedgerService(d)
}

func input(owner, merchant string, cents int64, at time.Time) core.ExpenseInput {
	return core.ExpenseInput{
		OwnerID:  owner,
		Amount:   core.Cents(cents),
		Merchant: core.Merchant{Name: merchant, Category: core.CategoryGroceries},
		Date:     at,
	}
}

func mustCreate(t *testing.T, l *LedgerService, in core.ExpenseInput) CreateResult {
	t.Helper()
	res, err := l.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return res
}

func spent(t *testing.T, store ports.BudgetStore, owner string, period core.PeriodKey) int64 {
	t.Helper()
	b, err := store.GetBudget(context.Background(), owner, period)
	if errors.Is(err, core.ErrNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	return b.TotalSpent.Cents
}
