// Package recurring recognises subscription-like charges: the same merchant
// billing a similar amount across several months.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
	"ledger/internal/ports"
)

const (
	// MinPriorMonths is how many distinct earlier months must show the charge.
	MinPriorMonths = 2
	// Lookback bounds the history scanned for earlier occurrences.
	Lookback = 6

	amountTolerance = 0.10
)

type Detector struct {
	expenses ports.ExpenseStore
	subs     ports.SubscriptionStore
}

func NewDetector(expenses ports.ExpenseStore, subs ports.SubscriptionStore) *Detector {
	return &Detector{expenses: expenses, subs: subs}
}

// DetectAndCreate implements ports.RecurringDetector. A zero result means the
// charge does not look recurring.
func (d *Detector) DetectAndCreate(ctx context.Context, ownerID, merchant string, amount core.Money, sourceID string, at time.Time) (ports.RecurringResult, error) {
	at = at.UTC()
	period := core.PeriodKeyFor(at)
	from := period
	for i := 0; i < Lookback; i++ {
		from = from.Previous()
	}
	history, err := d.expenses.ListExpenses(ctx, ownerID, core.DateRange{From: from.Range().From, To: period.Range().From})
	if err != nil {
		return ports.RecurringResult{}, fmt.Errorf("list history: %w", err)
	}

	key := normalize(merchant)
	months := map[core.PeriodKey]struct{}{}
	var first time.Time
	for _, e := range history {
		if e.ID == sourceID || normalize(e.Merchant.Name) != key || !similar(e.Amount, amount) {
			continue
		}
		months[e.Period()] = struct{}{}
		if first.IsZero() || e.Date.Before(first) {
			first = e.Date
		}
	}
	if len(months) < MinPriorMonths {
		return ports.RecurringResult{}, nil
	}

	existing, err := d.subs.FindSubscription(ctx, ownerID, merchant)
	switch {
	case err == nil:
		existing.Amount = amount
		existing.LastSeen = at
		existing.Occurrences = len(months) + 1
		if err := d.subs.SaveSubscription(ctx, existing); err != nil {
			return ports.RecurringResult{}, fmt.Errorf("update subscription: %w", err)
		}
		return ports.RecurringResult{Subscription: &existing}, nil
	case errors.Is(err, core.ErrNotFound):
	default:
		return ports.RecurringResult{}, fmt.Errorf("find subscription: %w", err)
	}

	sub := core.Subscription{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		MerchantName:  strings.TrimSpace(merchant),
		Amount:        amount,
		FirstSeen:     first,
		LastSeen:      at,
		Occurrences:   len(months) + 1,
		SourceExpense: sourceID,
	}
	if err := d.subs.SaveSubscription(ctx, sub); err != nil {
		return ports.RecurringResult{}, fmt.Errorf("save subscription: %w", err)
	}
	return ports.RecurringResult{IsNew: true, Subscription: &sub}, nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func similar(a, b core.Money) bool {
	hi, lo := a.Cents, b.Cents
	if lo > hi {
		hi, lo = lo, hi
	}
	if hi <= 0 {
		return false
	}
	return float64(hi-lo)/float64(hi) <= amountTolerance
}
