package anomaly

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ledger/internal/core"
)

var now = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestDetector() *Detector {
	return NewDetector(nil).WithClock(func() time.Time { return now })
}

func exp(id, merchant string, cat core.Category, cents int64, date time.Time) core.Expense {
	return core.Expense{
		ID:       id,
		OwnerID:  "u1",
		Amount:   core.Cents(cents),
		Currency: "PLN",
		Merchant: core.Merchant{Name: merchant, Category: cat},
		Date:     date,
	}
}

func TestDetect_InsufficientHistory(t *testing.T) {
	d := newTestDetector()
	var history []core.Expense
	for i := 0; i < MinHistory-1; i++ {
		history = append(history, exp(fmt.Sprint(i), "Lidl", core.CategoryGroceries, 100, now.AddDate(0, 0, -i)))
	}
	candidate := exp("c", "Lidl", core.CategoryGroceries, 999900, now)

	for n := 0; n <= len(history); n++ {
		if r := d.Detect(context.Background(), candidate, history[:n]); r.IsAnomaly {
			t.Fatalf("with %d records expected no anomaly, got %+v", n, r)
		}
	}
}

func TestDetect_HighAmountForCategory(t *testing.T) {
	d := newTestDetector()
	var history []core.Expense
	for i := 0; i < 10; i++ {
		history = append(history, exp(fmt.Sprint(i), "Biedronka", core.CategoryGroceries, 5000, now.AddDate(0, 0, -i-1)))
	}

	tests := []struct {
		name  string
		cents int64
		want  Severity
		hit   bool
	}{
		{"6x mean is high", 30000, SeverityHigh, true},
		{"5x mean is high", 25000, SeverityHigh, true},
		{"4x mean is medium", 20000, SeverityMedium, true},
		{"3x mean is medium", 15000, SeverityMedium, true},
		{"2x mean is fine", 10000, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := d.Detect(context.Background(), exp("c", "Biedronka", core.CategoryGroceries, tt.cents, now), history)
			if r.IsAnomaly != tt.hit {
				t.Fatalf("IsAnomaly = %v, want %v (%+v)", r.IsAnomaly, tt.hit, r)
			}
			if !tt.hit {
				return
			}
			if r.Type != TypeHighAmount || r.Severity != tt.want {
				t.Fatalf("got %s/%s, want high_amount/%s", r.Type, r.Severity, tt.want)
			}
			if r.Comparison == nil || r.Comparison.Average.Cents != 5000 {
				t.Fatalf("unexpected comparison: %+v", r.Comparison)
			}
		})
	}

	r := d.Detect(context.Background(), exp("c", "Biedronka", core.CategoryGroceries, 30000, now), history)
	if r.Comparison.Multiplier != 6 {
		t.Errorf("Multiplier = %v, want 6", r.Comparison.Multiplier)
	}
}

func TestDetect_NewMerchantHighAmount(t *testing.T) {
	d := newTestDetector()
	var history []core.Expense
	for i := 0; i < 6; i++ {
		history = append(history, exp(fmt.Sprint(i), "Lidl", core.CategoryGroceries, 2000, now.AddDate(0, 0, -i-1)))
	}

	r := d.Detect(context.Background(), exp("c", "MediaMarkt", core.CategoryShopping, 7000, now), history)
	if !r.IsAnomaly || r.Type != TypeNewMerchant || r.Severity != SeverityMedium {
		t.Fatalf("expected new_merchant/medium, got %+v", r)
	}

	// Known merchant, case-insensitive: no anomaly from this rule.
	history = append(history, exp("m", "mediamarkt ", core.CategoryShopping, 60000, now.AddDate(0, 0, -2)))
	r = d.Detect(context.Background(), exp("c", "MediaMarkt", core.CategoryShopping, 7000, now), history)
	if r.IsAnomaly {
		t.Fatalf("expected no anomaly for known merchant, got %+v", r)
	}
}

func TestDetect_DormantCategory(t *testing.T) {
	d := newTestDetector()
	history := []core.Expense{
		exp("t", "LOT", core.CategoryTravel, 40000, now.AddDate(0, 0, -60)),
	}
	for i := 0; i < 5; i++ {
		history = append(history, exp(fmt.Sprint(i), "Lidl", core.CategoryGroceries, 2000, now.AddDate(0, 0, -i-1)))
	}

	r := d.Detect(context.Background(), exp("c", "LOT", core.CategoryTravel, 35000, now), history)
	if !r.IsAnomaly || r.Type != TypeDormantCategory || r.Severity != SeverityLow {
		t.Fatalf("expected dormant_category/low, got %+v", r)
	}
}

func TestDetect_DailyBurst(t *testing.T) {
	d := newTestDetector()
	var history []core.Expense
	for i := 0; i < 6; i++ {
		history = append(history, exp(fmt.Sprint("old", i), "Lidl", core.CategoryGroceries, 1000, now.AddDate(0, 0, -10)))
	}
	for i := 0; i < 3; i++ {
		history = append(history, exp(fmt.Sprint("today", i), "Lidl", core.CategoryGroceries, 100, now.Add(-time.Duration(i+1)*time.Hour)))
	}

	r := d.Detect(context.Background(), exp("c", "Lidl", core.CategoryGroceries, 800, now), history)
	if !r.IsAnomaly || r.Type != TypeDailyBurst || r.Severity != SeverityMedium {
		t.Fatalf("expected daily_burst/medium, got %+v", r)
	}

	// Only two records today: rule does not apply.
	r = d.Detect(context.Background(), exp("c", "Lidl", core.CategoryGroceries, 800, now), history[:8])
	if r.IsAnomaly {
		t.Fatalf("expected no anomaly with two records today, got %+v", r)
	}

	// A backdated import does not count toward today.
	r = d.Detect(context.Background(), exp("c", "Lidl", core.CategoryGroceries, 800, now.AddDate(0, -2, 0)), history)
	if r.IsAnomaly {
		t.Fatalf("expected no anomaly for a backdated expense, got %+v", r)
	}
}

func TestDetect_IgnoresCandidateInHistory(t *testing.T) {
	d := newTestDetector()
	candidate := exp("c", "Lidl", core.CategoryGroceries, 100, now)
	history := []core.Expense{candidate, candidate, candidate, candidate}
	history = append(history, exp("x", "Lidl", core.CategoryGroceries, 100, now))
	if r := d.Detect(context.Background(), candidate, history); r.IsAnomaly {
		t.Fatalf("candidate must not count as history: %+v", r)
	}
}
