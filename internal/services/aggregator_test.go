package services

import (
	"context"
	"testing"
	"time"

	"ledger/internal/anomaly"
	"ledger/internal/core"
	"ledger/internal/events"
	"ledger/internal/storage/memory"
)

func TestDashboard(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, nil)
	agg := NewAggregator(l, nil, nil)
	ctx := context.Background()

	mustCreate(t, l, input(owner, "Lidl", 3000, testNow))
	mustCreate(t, l, input(owner, "Lidl", 1000, time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)))
	if err := l.SetBudgetLimit(ctx, owner, "2025-03", core.Cents(10000)); err != nil {
		t.Fatalf("SetBudgetLimit: %v", err)
	}
	if _, err := l.UpsertGoal(ctx, core.Goal{OwnerID: owner, Name: "Bike", Target: core.Cents(2000), Saved: core.Cents(500)}); err != nil {
		t.Fatalf("UpsertGoal: %v", err)
	}
	if err := l.d.Bus.Emit(ctx, events.AnomalyDetected{
		OwnerID: owner, ExpenseID: "e-1",
		Result: anomaly.Result{IsAnomaly: true, Type: anomaly.TypeHighAmount, Severity: anomaly.SeverityHigh},
	}); err != nil {
		t.Fatal(err)
	}

	d, err := agg.Dashboard(ctx, owner, "2025-03")
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if d.Stats.Total.Cents != 3000 || d.Stats.Count != 1 {
		t.Errorf("stats = %+v", d.Stats)
	}
	if d.Budget == nil || d.Budget.TotalSpent.Cents != 3000 {
		t.Fatalf("budget = %+v", d.Budget)
	}
	if d.Remaining == nil || d.Remaining.Cents != 7000 {
		t.Errorf("remaining = %v, want 70.00", d.Remaining)
	}
	if d.Prediction.Limit == nil || d.Prediction.Limit.Cents != 10000 {
		t.Errorf("prediction limit = %v", d.Prediction.Limit)
	}
	if len(d.Goals) != 1 || d.Goals[0].Progress != 25 {
		t.Errorf("goals = %+v", d.Goals)
	}
	if len(d.Anomalies) != 1 || d.Anomalies[0].ExpenseID != "e-1" {
		t.Errorf("anomalies = %+v", d.Anomalies)
	}

	// cached until the owner writes again
	mustCreate(t, l, input(owner, "Zabka", 500, testNow))
	d, err = agg.Dashboard(ctx, owner, "2025-03")
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if d.Stats.Total.Cents != 3500 {
		t.Errorf("dashboard not invalidated: total = %d", d.Stats.Total.Cents)
	}
}

func TestDashboard_EmptyPeriod(t *testing.T) {
	l := newLedger(t, memory.New(), nil)
	d, err := NewAggregator(l, nil, nil).Dashboard(context.Background(), owner, "2024-06")
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if d.Budget != nil || d.Remaining != nil {
		t.Errorf("expected no budget, got %+v remaining %v", d.Budget, d.Remaining)
	}
	if d.Stats.Count != 0 || len(d.Goals) != 0 || len(d.Anomalies) != 0 {
		t.Errorf("expected empty dashboard, got %+v", d)
	}

	if _, err := NewAggregator(l, nil, nil).Dashboard(context.Background(), owner, "bad"); err == nil {
		t.Error("expected invalid period error")
	}
}
