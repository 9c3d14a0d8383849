package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ledger/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testExpense(id string, cents int64, date time.Time) core.Expense {
	conf := 0.92
	return core.Expense{
		ID:       id,
		OwnerID:  "u1",
		Amount:   core.Cents(cents),
		Currency: "PLN",
		Merchant: core.Merchant{Name: "Orlen", Category: core.CategoryFuel, TaxID: "PL123"},
		Date:     date,
		Items: []core.LineItem{
			{Name: "Pb95", Quantity: 20.5, UnitPrice: core.Cents(650), TotalPrice: core.Cents(cents)},
		},
		Tags:      []string{"car"},
		Metadata:  core.Metadata{Source: core.SourceScan, Confidence: &conf},
		CreatedAt: date,
	}
}

func TestExpenseRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	date := time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC)

	want := testExpense("e1", 13325, date)
	if err := repo.CreateExpense(ctx, want); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}

	got, err := repo.GetExpense(ctx, "u1", "e1")
	if err != nil {
		t.Fatalf("GetExpense: %v", err)
	}
	if got.Amount != want.Amount || got.Merchant != want.Merchant || !got.Date.Equal(want.Date) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 20.5 || got.Tags[0] != "car" {
		t.Fatalf("items/tags not restored: %+v %+v", got.Items, got.Tags)
	}
	if got.Metadata.Confidence == nil || *got.Metadata.Confidence != 0.92 {
		t.Fatalf("confidence not restored: %+v", got.Metadata)
	}

	if _, err := repo.GetExpense(ctx, "other-owner", "e1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another owner, got %v", err)
	}
}

func TestListAndRecent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for i, d := range []time.Time{
		time.Date(2025, 2, 28, 23, 59, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 31, 23, 59, 0, 0, time.UTC),
		time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	} {
		if err := repo.CreateExpense(ctx, testExpense(string(rune('a'+i)), 100, d)); err != nil {
			t.Fatalf("CreateExpense: %v", err)
		}
	}

	march, err := repo.ListExpenses(ctx, "u1", core.PeriodKey("2025-03").Range())
	if err != nil {
		t.Fatalf("ListExpenses: %v", err)
	}
	if len(march) != 2 || march[0].ID != "b" || march[1].ID != "c" {
		t.Fatalf("unexpected march records: %+v", march)
	}

	all, err := repo.ListExpenses(ctx, "u1", core.DateRange{})
	if err != nil || len(all) != 4 {
		t.Fatalf("unbounded list: %d records, err %v", len(all), err)
	}

	recent, err := repo.RecentExpenses(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("RecentExpenses: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "d" || recent[1].ID != "c" {
		t.Fatalf("unexpected recent order: %+v", recent)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	e := testExpense("e1", 100, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	repo.CreateExpense(ctx, e)

	e.Amount = core.Cents(250)
	e.Notes = "corrected"
	if err := repo.UpdateExpense(ctx, e); err != nil {
		t.Fatalf("UpdateExpense: %v", err)
	}
	got, _ := repo.GetExpense(ctx, "u1", "e1")
	if got.Amount.Cents != 250 || got.Notes != "corrected" {
		t.Fatalf("update not applied: %+v", got)
	}

	missing := e
	missing.ID = "nope"
	if err := repo.UpdateExpense(ctx, missing); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	removed, err := repo.DeleteExpense(ctx, "u1", "e1")
	if err != nil || !removed {
		t.Fatalf("DeleteExpense: removed=%v err=%v", removed, err)
	}
	removed, err = repo.DeleteExpense(ctx, "u1", "e1")
	if err != nil || removed {
		t.Fatalf("second delete should be a no-op: removed=%v err=%v", removed, err)
	}
}

func TestIncrementSpent_UpsertsShell(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.GetBudget(ctx, "u1", "2025-03"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected no budget yet, got %v", err)
	}
	if err := repo.IncrementSpent(ctx, "u1", "2025-03", core.CategoryFuel, core.Cents(4250)); err != nil {
		t.Fatalf("IncrementSpent: %v", err)
	}
	b, err := repo.GetBudget(ctx, "u1", "2025-03")
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if b.TotalSpent.Cents != 4250 || b.Limit() != nil || !b.AlertsEnabled {
		t.Fatalf("unexpected shell: %+v", b)
	}
}

func TestIncrementSpent_Concurrent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if err := repo.SetCategoryLimit(ctx, "u1", "2025-03", core.CategoryFuel, core.Cents(100000), 0.8); err != nil {
		t.Fatalf("SetCategoryLimit: %v", err)
	}

	const writers = 40
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			delta := core.Cents(100)
			if i%4 == 0 {
				delta = delta.Neg()
			}
			errs <- repo.IncrementSpent(ctx, "u1", "2025-03", core.CategoryFuel, delta)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("IncrementSpent: %v", err)
		}
	}

	b, _ := repo.GetBudget(ctx, "u1", "2025-03")
	// 30 increments of +1.00 and 10 of -1.00
	if b.TotalSpent.Cents != 2000 {
		t.Fatalf("TotalSpent = %d, want 2000", b.TotalSpent.Cents)
	}
	if got := b.CategoryLimits[core.CategoryFuel].Spent.Cents; got != 2000 {
		t.Fatalf("category spent = %d, want 2000", got)
	}
}

func TestLimitsAndSetSpent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SetTotalLimit(ctx, "u1", "2025-03", core.Cents(200000)); err != nil {
		t.Fatalf("SetTotalLimit: %v", err)
	}
	repo.SetCategoryLimit(ctx, "u1", "2025-03", core.CategoryGroceries, core.Cents(80000), 0.9)
	repo.SetCategoryLimit(ctx, "u1", "2025-03", core.CategoryFuel, core.Cents(30000), 0.5)

	err := repo.SetSpent(ctx, "u1", "2025-03", core.Cents(50000), map[core.Category]core.Money{
		core.CategoryGroceries: core.Cents(45000),
		core.CategoryHealth:    core.Cents(5000),
	})
	if err != nil {
		t.Fatalf("SetSpent: %v", err)
	}

	b, _ := repo.GetBudget(ctx, "u1", "2025-03")
	if b.TotalLimit.Cents != 200000 || b.TotalSpent.Cents != 50000 {
		t.Fatalf("unexpected totals: %+v", b)
	}
	if b.CategoryLimits[core.CategoryGroceries].Spent.Cents != 45000 || b.CategoryLimits[core.CategoryFuel].Spent.Cents != 0 {
		t.Fatalf("unexpected category spend: %+v", b.CategoryLimits)
	}
	if b.CategoryLimits[core.CategoryGroceries].AlertThreshold != 0.9 {
		t.Fatalf("threshold not stored: %+v", b.CategoryLimits)
	}

	repo.IncrementSpent(ctx, "u2", "2025-01", core.CategoryOther, core.Cents(1))
	budgets, err := repo.ListBudgets(ctx, "2025-02")
	if err != nil || len(budgets) != 1 || budgets[0].OwnerID != "u1" {
		t.Fatalf("ListBudgets: %+v, %v", budgets, err)
	}
}

func TestSumByCategory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	d := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	repo.CreateExpense(ctx, testExpense("a", 100, d))
	repo.CreateExpense(ctx, testExpense("b", 250, d))
	repo.CreateExpense(ctx, testExpense("c", 999, d.AddDate(0, 1, 0)))

	sums, err := repo.SumByCategory(ctx, "u1", "2025-03")
	if err != nil {
		t.Fatalf("SumByCategory: %v", err)
	}
	if len(sums) != 1 || sums[core.CategoryFuel].Cents != 350 {
		t.Fatalf("unexpected sums: %+v", sums)
	}
}

func TestGoalsSubscriptionsAudit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	g := core.Goal{ID: "g1", OwnerID: "u1", Name: "Bike", Target: core.Cents(300000), CreatedAt: now}
	repo.UpsertGoal(ctx, g)
	g.Saved = core.Cents(50000)
	g.Deadline = now.AddDate(0, 6, 0)
	if err := repo.UpsertGoal(ctx, g); err != nil {
		t.Fatalf("UpsertGoal: %v", err)
	}
	goals, err := repo.ListGoals(ctx, "u1")
	if err != nil || len(goals) != 1 || goals[0].Saved.Cents != 50000 || !goals[0].Deadline.Equal(g.Deadline) {
		t.Fatalf("ListGoals: %+v, %v", goals, err)
	}

	sub := core.Subscription{ID: "s1", OwnerID: "u1", MerchantName: "Netflix", Amount: core.Cents(4300), FirstSeen: now, LastSeen: now, Occurrences: 3}
	if err := repo.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	found, err := repo.FindSubscription(ctx, "u1", " NETFLIX")
	if err != nil || found.Occurrences != 3 {
		t.Fatalf("FindSubscription: %+v, %v", found, err)
	}
	if _, err := repo.FindSubscription(ctx, "u1", "Spotify"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := repo.LogAction(ctx, "u1", "delete", "expense", "e1", map[string]any{"amount_cents": 4250}); err != nil {
		t.Fatalf("LogAction: %v", err)
	}
	entries, err := repo.ListAudit(ctx, "u1", 10)
	if err != nil || len(entries) != 1 || entries[0].EntityID != "e1" || entries[0].Details["amount_cents"] != float64(4250) {
		t.Fatalf("ListAudit: %+v, %v", entries, err)
	}
}

func TestUpsertGoal_OtherOwnersID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	g := core.Goal{ID: "g1", OwnerID: "alice", Name: "Bike", Target: core.Cents(1000), CreatedAt: time.Now()}
	if err := repo.UpsertGoal(ctx, g); err != nil {
		t.Fatalf("UpsertGoal: %v", err)
	}
	g.OwnerID = "bob"
	if err := repo.UpsertGoal(ctx, g); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if goals, _ := repo.ListGoals(ctx, "bob"); len(goals) != 0 {
		t.Fatalf("bob must not see alice's goal: %+v", goals)
	}
}
