package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"ledger/internal/classify"
	"ledger/internal/core"
	"ledger/internal/duplicate"
	"ledger/internal/events"
	"ledger/internal/insights"
	"ledger/internal/rewards"
	"ledger/internal/storage/memory"
)

const owner = "user-1"

func TestCreate_UpdatesAggregate(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, nil)
	ctx := context.Background()

	res := mustCreate(t, l, input(owner, "Lidl", 1250, testNow))
	if res.ID == "" {
		t.Fatal("expected an id")
	}
	mustCreate(t, l, input(owner, "Biedronka", 750, testNow.Add(-time.Hour)))

	if got := spent(t, store, owner, "2025-03"); got != 2000 {
		t.Fatalf("total spent = %d, want 2000", got)
	}

	e, err := l.Get(ctx, owner, res.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Currency != "PLN" || e.Metadata.Source != core.SourceManual {
		t.Errorf("defaults not applied: currency=%q source=%q", e.Currency, e.Metadata.Source)
	}

	added := l.d.Bus.Recent(events.KindExpenseAdded, owner, 0)
	if len(added) != 2 {
		t.Errorf("expense:added events = %d, want 2", len(added))
	}
	if len(l.d.Bus.Recent(events.KindBudgetUpdated, owner, 0)) != 2 {
		t.Error("expected one budget:updated per create")
	}
}

func TestCreate_InvalidInput(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, nil)

	tests := []struct {
		name string
		in   core.ExpenseInput
		want error
	}{
		{"zero amount", input(owner, "Lidl", 0, testNow), core.ErrInvalidAmount},
		{"empty merchant", input(owner, "  ", 100, testNow), core.ErrEmptyMerchant},
		{"no owner", input("", "Lidl", 100, testNow), core.ErrEmptyOwner},
		{"no date", input(owner, "Lidl", 100, time.Time{}), core.ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Create(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	if got := spent(t, store, owner, "2025-03"); got != 0 {
		t.Fatalf("invalid input must not touch the aggregate, spent = %d", got)
	}
}

func TestCreate_ClassifiesEmptyCategory(t *testing.T) {
	rules, err := classify.Parse(strings.NewReader("shell|fuel|0.9\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	l := newLedger(t, memory.New(), func(d *Deps) { d.Classifier = rules })

	in := input(owner, "Shell Station 42", 9000, testNow)
	in.Merchant.Category = ""
	res := mustCreate(t, l, in)
	if res.Expense.Merchant.Category != core.CategoryFuel {
		t.Errorf("category = %q, want fuel", res.Expense.Merchant.Category)
	}

	in = input(owner, "Corner Kiosk", 300, testNow)
	in.Merchant.Category = ""
	if res := mustCreate(t, l, in); res.Expense.Merchant.Category != core.CategoryOther {
		t.Errorf("unmatched merchant category = %q, want other", res.Expense.Merchant.Category)
	}
}

func TestGetByPeriod_SeesNewRecordsAfterCachedRead(t *testing.T) {
	l := newLedger(t, memory.New(), nil)
	ctx := context.Background()

	conf := 0.87
	in := input(owner, "Lidl", 100, testNow)
	in.Currency = "EUR"
	in.Merchant.TaxID = "PL1234567890"
	in.Items = []core.LineItem{{Name: "Bread", Quantity: 2, UnitPrice: core.Cents(50), TotalPrice: core.Cents(100)}}
	in.Tags = []string{"home", "weekly"}
	in.Notes = "receipt 42"
	in.Metadata = core.Metadata{Source: core.SourceScan, Verified: true, Confidence: &conf}
	created := mustCreate(t, l, in)

	list, err := l.GetByPeriod(ctx, owner, core.PeriodMonth, nil)
	if err != nil {
		t.Fatalf("GetByPeriod: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d expenses, want 1", len(list))
	}
	got := list[0]
	if got.ID != created.ID || got.OwnerID != owner {
		t.Errorf("identity = %s/%s, want %s/%s", got.OwnerID, got.ID, owner, created.ID)
	}
	if got.Amount != in.Amount || got.Currency != "EUR" || got.Notes != in.Notes || !got.Date.Equal(in.Date) {
		t.Errorf("scalar fields changed: %+v", got)
	}
	if got.Merchant != in.Merchant {
		t.Errorf("merchant = %+v, want %+v", got.Merchant, in.Merchant)
	}
	if !reflect.DeepEqual(got.Items, in.Items) || !reflect.DeepEqual(got.Tags, in.Tags) {
		t.Errorf("items/tags = %+v %v", got.Items, got.Tags)
	}
	if !reflect.DeepEqual(got.Metadata, in.Metadata) {
		t.Errorf("metadata = %+v, want %+v", got.Metadata, in.Metadata)
	}

	mustCreate(t, l, input(owner, "Zabka", 200, testNow))
	list, err = l.GetByPeriod(ctx, owner, core.PeriodMonth, nil)
	if err != nil {
		t.Fatalf("GetByPeriod: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("cached view not invalidated: got %d expenses, want 2", len(list))
	}

	st, err := l.GetStats(ctx, owner, core.PeriodMonth, nil)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if st.Total.Cents != 300 || st.Count != 2 {
		t.Errorf("stats = %+v", st)
	}

	if _, err := l.GetByPeriod(ctx, owner, core.PeriodCustom, nil); !errors.Is(err, core.ErrInvalidPeriod) {
		t.Errorf("custom without bounds: got %v", err)
	}
}

func TestUpdate_MovesAcrossPeriods(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, nil)
	ctx := context.Background()

	res := mustCreate(t, l, input(owner, "Lidl", 1000, testNow))

	feb := time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC)
	amount := core.Cents(1500)
	after, err := l.Update(ctx, owner, res.ID, core.ExpenseChanges{Date: &feb, Amount: &amount})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if after.Period() != "2025-02" {
		t.Fatalf("period = %s", after.Period())
	}
	if got := spent(t, store, owner, "2025-03"); got != 0 {
		t.Errorf("march spent = %d, want 0", got)
	}
	if got := spent(t, store, owner, "2025-02"); got != 1500 {
		t.Errorf("february spent = %d, want 1500", got)
	}
	if len(l.d.Bus.Recent(events.KindExpenseUpdated, owner, 0)) != 1 {
		t.Error("expected expense:updated")
	}
}

func TestUpdate_CategoryChangeMovesCategorySpent(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, nil)
	ctx := context.Background()

	for _, c := range []core.Category{core.CategoryGroceries, core.CategoryRestaurants} {
		if err := l.SetCategoryLimit(ctx, owner, "2025-03", c, core.Cents(10000), 0); err != nil {
			t.Fatalf("SetCategoryLimit: %v", err)
		}
	}
	res := mustCreate(t, l, input(owner, "Pizza Place", 4000, testNow))

	m := res.Expense.Merchant
	m.Category = core.CategoryRestaurants
	if _, err := l.Update(ctx, owner, res.ID, core.ExpenseChanges{Merchant: &m}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	b, err := store.GetBudget(ctx, owner, "2025-03")
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if b.TotalSpent.Cents != 4000 {
		t.Errorf("total = %d, want 4000", b.TotalSpent.Cents)
	}
	if got := b.CategoryLimits[core.CategoryGroceries].Spent.Cents; got != 0 {
		t.Errorf("groceries spent = %d, want 0", got)
	}
	if got := b.CategoryLimits[core.CategoryRestaurants].Spent.Cents; got != 4000 {
		t.Errorf("restaurants spent = %d, want 4000", got)
	}
}

func TestUpdate_NotFoundAndInvalid(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, nil)
	ctx := context.Background()

	amount := core.Cents(10)
	if _, err := l.Update(ctx, owner, "missing", core.ExpenseChanges{Amount: &amount}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	res := mustCreate(t, l, input(owner, "Lidl", 500, testNow))
	zero := core.Cents(0)
	if _, err := l.Update(ctx, owner, res.ID, core.ExpenseChanges{Amount: &zero}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("got %v, want ErrInvalidAmount", err)
	}
	if got := spent(t, store, owner, "2025-03"); got != 500 {
		t.Fatalf("rejected update changed the aggregate: %d", got)
	}
}

func TestDelete_IsIdempotent(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, func(d *Deps) { d.Audit = store })
	ctx := context.Background()

	res := mustCreate(t, l, input(owner, "Lidl", 800, testNow))

	ok, err := l.Delete(ctx, owner, res.ID)
	if err != nil || !ok {
		t.Fatalf("first delete = %v, %v", ok, err)
	}
	ok, err = l.Delete(ctx, owner, res.ID)
	if err != nil || ok {
		t.Fatalf("second delete = %v, %v; want false, nil", ok, err)
	}
	if got := spent(t, store, owner, "2025-03"); got != 0 {
		t.Errorf("spent after delete = %d, want 0", got)
	}
	if n := len(l.d.Bus.Recent(events.KindExpenseDeleted, owner, 0)); n != 1 {
		t.Errorf("expense:deleted events = %d, want 1", n)
	}

	entries, err := store.ListAudit(ctx, owner, 0)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	if strings.Join(actions, ",") != "delete,create" {
		t.Errorf("audit actions = %v", actions)
	}
}

func TestAggregateMatchesRecordsAfterConcurrentWrites(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Create(ctx, input(owner, "Shop", int64(100+i), testNow))
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			ids[i] = res.ID
		}()
	}
	wg.Wait()

	for i := 0; i < len(ids); i += 2 {
		if _, err := l.Delete(ctx, owner, ids[i]); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}

	list, err := store.ListExpenses(ctx, owner, core.PeriodKey("2025-03").Range())
	if err != nil {
		t.Fatalf("ListExpenses: %v", err)
	}
	var want int64
	for _, e := range list {
		want += e.Amount.Cents
	}
	if got := spent(t, store, owner, "2025-03"); got != want {
		t.Fatalf("aggregate %d != record sum %d", got, want)
	}
}

func TestCreate_SoftFailuresDoNotFailTheWrite(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, func(d *Deps) {
		d.Rewards = failingRewards{}
		d.Insights = failingInsights{}
		d.Recurring = failingRecurring{}
		d.Audit = failingAudit{}
		d.Notifier = &recordingNotifier{}
	})

	res, err := l.Create(context.Background(), input(owner, "Lidl", 1000, testNow))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, name := range []string{TaskRewards, TaskInsights, TaskRecurring, TaskAudit} {
		if failed(res.Tasks, name) == nil {
			t.Errorf("task %s should have failed", name)
		}
	}
	if err := failed(res.Tasks, TaskBudget); err != nil {
		t.Errorf("budget task failed: %v", err)
	}
	if _, err := l.Get(context.Background(), owner, res.ID); err != nil {
		t.Errorf("record not persisted: %v", err)
	}
	if got := spent(t, store, owner, "2025-03"); got != 1000 {
		t.Errorf("spent = %d, want 1000", got)
	}
}

func TestCreate_CollaboratorsRun(t *testing.T) {
	store := memory.New()
	notifier := &recordingNotifier{}
	engine := rewards.NewEngine()
	l := newLedger(t, store, func(d *Deps) {
		d.Rewards = engine
		d.Insights = insights.NewEngine()
		d.Notifier = notifier
		d.Audit = store
	})
	ctx := context.Background()

	if err := l.SetBudgetLimit(ctx, owner, "2025-03", core.Cents(1000)); err != nil {
		t.Fatalf("SetBudgetLimit: %v", err)
	}
	mustCreate(t, l, input(owner, "Electronics", 1500, testNow))

	if engine.Total(owner) == 0 {
		t.Error("no xp awarded")
	}
	if len(notifier.sent) == 0 {
		t.Fatal("expected a budget notification")
	}
	if notifier.sent[0].ActionURL != "/budget/2025-03" {
		t.Errorf("action url = %q", notifier.sent[0].ActionURL)
	}
	if len(l.d.Bus.Recent(events.KindNotificationSent, owner, 0)) == 0 {
		t.Error("expected notification:sent")
	}
	if len(l.d.Bus.Recent(events.KindPointsAwarded, owner, 0)) < 2 {
		t.Error("expected points for the limit edit and the expense")
	}
}

func TestCreate_IncrementFailureIsReconciled(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	l := newLedger(t, store, nil)

	mustCreate(t, l, input(owner, "Lidl", 300, testNow))
	store.incrementFailures.Store(1)

	res, err := l.Create(context.Background(), input(owner, "Lidl", 700, testNow))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if failed(res.Tasks, TaskBudget) == nil {
		t.Fatal("expected the budget task to report the failed increment")
	}
	if got := spent(t, store, owner, "2025-03"); got != 1000 {
		t.Fatalf("spent = %d, want 1000 after reconcile", got)
	}
	if len(l.d.Bus.Recent(events.KindBudgetReconciled, owner, 0)) != 1 {
		t.Error("expected budget:reconciled")
	}
}

func TestCreate_AggregateFailureIsHard(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	store.incrementFailures.Store(1)
	store.failSetSpent.Store(true)
	l := newLedger(t, store, nil)

	res, err := l.Create(context.Background(), input(owner, "Lidl", 700, testNow))
	if !errors.Is(err, ErrAggregate) {
		t.Fatalf("got %v, want ErrAggregate", err)
	}
	if res.ID == "" {
		t.Fatal("result must still carry the persisted id")
	}
	if _, err := l.Get(context.Background(), owner, res.ID); err != nil {
		t.Fatalf("record must survive an aggregate failure: %v", err)
	}
}

func TestCreate_SecondScanIsFlaggedDuplicate(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, func(d *Deps) {
		d.Duplicates = duplicate.NewDetector(store, 10, time.Minute, nil)
	})

	in := input(owner, "Lidl", 4599, testNow)
	in.Metadata.Source = core.SourceScan

	first := mustCreate(t, l, in)
	if first.Duplicate.IsDuplicate {
		t.Fatal("first scan flagged as duplicate")
	}
	second := mustCreate(t, l, in)
	if !second.Duplicate.IsDuplicate || second.Duplicate.MatchID != first.ID {
		t.Fatalf("second scan result = %+v", second.Duplicate)
	}
	if got := spent(t, store, owner, "2025-03"); got != 2*4599 {
		t.Fatalf("duplicates are advisory; spent = %d", got)
	}
}

func TestGetBudget_SelfHealsOncePerPeriod(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, nil)
	ctx := context.Background()

	mustCreate(t, l, input(owner, "Lidl", 2500, testNow))
	if err := store.SetTotalLimit(ctx, owner, "2025-03", core.Cents(10000)); err != nil {
		t.Fatal(err)
	}
	// simulate a lost increment
	if err := store.SetSpent(ctx, owner, "2025-03", core.Money{}, nil); err != nil {
		t.Fatal(err)
	}

	b, err := l.GetBudget(ctx, owner, "2025-03")
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if b.TotalSpent.Cents != 2500 {
		t.Fatalf("healed spent = %d, want 2500", b.TotalSpent.Cents)
	}

	if err := store.SetSpent(ctx, owner, "2025-03", core.Money{}, nil); err != nil {
		t.Fatal(err)
	}
	l.d.Cache.Clear()
	b, err = l.GetBudget(ctx, owner, "2025-03")
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if b.TotalSpent.Cents != 0 {
		t.Fatalf("second drift healed again: spent = %d", b.TotalSpent.Cents)
	}
	if n := len(l.d.Bus.Recent(events.KindBudgetReconciled, owner, 0)); n != 1 {
		t.Fatalf("reconciled %d times, want 1", n)
	}
}

func TestGetBudget_MissingPeriod(t *testing.T) {
	l := newLedger(t, memory.New(), nil)
	if _, err := l.GetBudget(context.Background(), owner, "2024-01"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if _, err := l.GetBudget(context.Background(), owner, "2024-13"); !errors.Is(err, core.ErrInvalidPeriod) {
		t.Fatalf("got %v, want ErrInvalidPeriod", err)
	}
}

func TestSetCategoryLimit_ReflectsExistingSpend(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, nil)
	ctx := context.Background()

	mustCreate(t, l, input(owner, "Lidl", 1200, testNow))
	if err := l.SetCategoryLimit(ctx, owner, "2025-03", "Groceries", core.Cents(5000), 0.5); err != nil {
		t.Fatalf("SetCategoryLimit: %v", err)
	}
	b, err := l.GetBudget(ctx, owner, "2025-03")
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	cl := b.CategoryLimits[core.CategoryGroceries]
	if cl.Spent.Cents != 1200 || cl.AlertThreshold != 0.5 {
		t.Fatalf("category limit = %+v", cl)
	}

	if err := l.SetCategoryLimit(ctx, owner, "2025-03", core.CategoryFuel, core.Cents(100), 1.5); err == nil {
		t.Fatal("expected threshold validation error")
	}
	if err := l.SetBudgetLimit(ctx, owner, "2025-03", core.Cents(-1)); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("got %v, want ErrInvalidAmount", err)
	}
}

func TestUpsertGoal(t *testing.T) {
	l := newLedger(t, memory.New(), nil)
	ctx := context.Background()

	g, err := l.UpsertGoal(ctx, core.Goal{OwnerID: owner, Name: " Holiday ", Target: core.Cents(100000), Saved: core.Cents(25000)})
	if err != nil {
		t.Fatalf("UpsertGoal: %v", err)
	}
	if g.ID == "" || g.Name != "Holiday" {
		t.Fatalf("goal = %+v", g)
	}
	goals, err := l.ListGoals(ctx, owner)
	if err != nil || len(goals) != 1 {
		t.Fatalf("ListGoals = %v, %v", goals, err)
	}
	if _, err := l.UpsertGoal(ctx, core.Goal{OwnerID: owner, Name: "x"}); err == nil {
		t.Fatal("expected validation error for zero target")
	}

	taken := g
	taken.OwnerID = "user-2"
	if _, err := l.UpsertGoal(ctx, taken); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("upsert of another owner's goal: got %v, want ErrNotFound", err)
	}
	if goals, _ := l.ListGoals(ctx, "user-2"); len(goals) != 0 {
		t.Fatalf("user-2 goals = %+v", goals)
	}
}
