package recurring

import (
	"context"
	"testing"
	"time"

	"ledger/internal/core"
	"ledger/internal/storage/memory"
)

func seed(t *testing.T, s *memory.Store, id, merchant string, cents int64, date time.Time) {
	t.Helper()
	err := s.CreateExpense(context.Background(), core.Expense{
		ID: id, OwnerID: "u1", Amount: core.Cents(cents), Currency: "PLN",
		Merchant: core.Merchant{Name: merchant, Category: core.CategorySubscriptions},
		Date:     date, Metadata: core.Metadata{Source: core.SourceManual},
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestDetectAndCreate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	d := NewDetector(s, s)
	now := time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)

	seed(t, s, "jan", "Netflix", 4300, time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC))
	res, err := d.DetectAndCreate(ctx, "u1", "Netflix", core.Cents(4300), "mar", now)
	if err != nil {
		t.Fatalf("DetectAndCreate: %v", err)
	}
	if res.Subscription != nil {
		t.Fatalf("one prior month is not recurring: %+v", res)
	}

	seed(t, s, "feb", "NETFLIX ", 4500, time.Date(2025, 2, 5, 9, 0, 0, 0, time.UTC))
	res, err = d.DetectAndCreate(ctx, "u1", "Netflix", core.Cents(4300), "mar", now)
	if err != nil {
		t.Fatalf("DetectAndCreate: %v", err)
	}
	if !res.IsNew || res.Subscription == nil {
		t.Fatalf("expected new subscription, got %+v", res)
	}
	if res.Subscription.Occurrences != 3 || res.Subscription.SourceExpense != "mar" {
		t.Fatalf("unexpected subscription: %+v", res.Subscription)
	}
	id := res.Subscription.ID

	res, err = d.DetectAndCreate(ctx, "u1", "netflix", core.Cents(4400), "mar2", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("DetectAndCreate: %v", err)
	}
	if res.IsNew || res.Subscription == nil || res.Subscription.ID != id {
		t.Fatalf("expected existing subscription %s, got %+v", id, res)
	}
	if res.Subscription.Amount.Cents != 4400 {
		t.Fatalf("amount not refreshed: %+v", res.Subscription)
	}
}

func TestDetectAndCreate_AmountMustBeSimilar(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	d := NewDetector(s, s)

	seed(t, s, "a", "Gym", 10000, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC))
	seed(t, s, "b", "Gym", 20000, time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC))

	res, err := d.DetectAndCreate(ctx, "u1", "Gym", core.Cents(10000), "c", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DetectAndCreate: %v", err)
	}
	if res.Subscription != nil {
		t.Fatalf("20000 is not within 10%% of 10000: %+v", res)
	}
}

func TestSimilar(t *testing.T) {
	tests := []struct {
		a, b int64
		want bool
	}{
		{1000, 1000, true},
		{1000, 1100, true},
		{1000, 1112, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		if got := similar(core.Cents(tt.a), core.Cents(tt.b)); got != tt.want {
			t.Errorf("similar(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
