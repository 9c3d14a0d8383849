// Package insights derives short, prioritized observations about a new
// expense in the context of its budget period.
package insights

import (
	"context"
	"fmt"

	"ledger/internal/core"
	"ledger/internal/ports"
)

const (
	TypeBudgetExceeded  = "budget_exceeded"
	TypeBudgetWarning   = "budget_warning"
	TypeCategoryLimit   = "category_limit"
	TypeLargePurchase   = "large_purchase"
	TypeNewCategory     = "new_category"
	largePurchaseFactor = 3
	largePurchaseMinN   = 3
)

type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// GenerateInsights implements ports.InsightsEngine. periodExpenses is
// expected to already contain e; spend is derived from it rather than from
// the budget aggregate, which may not yet include e.
func (en *Engine) GenerateInsights(_ context.Context, e core.Expense, periodExpenses []core.Expense, budget *core.Budget) ([]ports.Insight, error) {
	var out []ports.Insight

	var total, inCategory core.Money
	var others []core.Expense
	seenCategory := false
	for _, pe := range periodExpenses {
		total = total.Add(pe.Amount)
		if pe.Merchant.Category == e.Merchant.Category {
			inCategory = inCategory.Add(pe.Amount)
		}
		if pe.ID == e.ID {
			continue
		}
		others = append(others, pe)
		if pe.Merchant.Category == e.Merchant.Category {
			seenCategory = true
		}
	}

	if budget != nil {
		if in, ok := totalInsight(total, budget); ok {
			out = append(out, in)
		}
		if cl, ok := budget.CategoryLimits[e.Merchant.Category]; ok {
			if in, ok := categoryInsight(e.Merchant.Category, inCategory, cl); ok {
				out = append(out, in)
			}
		}
	}

	if len(others) >= largePurchaseMinN {
		var sum int64
		for _, o := range others {
			sum += o.Amount.Cents
		}
		avg := sum / int64(len(others))
		if avg > 0 && e.Amount.Cents > largePurchaseFactor*avg {
			out = append(out, ports.Insight{
				Type:     TypeLargePurchase,
				Priority: ports.PriorityMedium,
				Title:    "Large purchase",
				Message: fmt.Sprintf("%s at %s is more than %dx your average expense this month (%s)",
					e.Amount, e.Merchant.Name, largePurchaseFactor, core.Cents(avg)),
			})
		}
	}

	if !seenCategory && len(others) > 0 {
		out = append(out, ports.Insight{
			Type:     TypeNewCategory,
			Priority: ports.PriorityLow,
			Title:    "First expense in category",
			Message:  fmt.Sprintf("This is your first %s expense this month", e.Merchant.Category),
		})
	}
	return out, nil
}

func totalInsight(spent core.Money, b *core.Budget) (ports.Insight, bool) {
	limit := b.Limit()
	if limit == nil {
		return ports.Insight{}, false
	}
	view := *b
	view.TotalSpent = spent
	remaining := view.Remaining()
	ratio := float64(spent.Cents) / float64(limit.Cents)
	switch {
	case ratio >= 1:
		return ports.Insight{
			Type:     TypeBudgetExceeded,
			Priority: ports.PriorityCritical,
			Title:    "Budget exceeded",
			Message:  fmt.Sprintf("You have spent %s of your %s budget for %s", spent, limit, b.Period),
		}, true
	case ratio >= 0.9:
		return ports.Insight{
			Type:     TypeBudgetWarning,
			Priority: ports.PriorityHigh,
			Title:    "Budget almost used",
			Message:  fmt.Sprintf("%.0f%% of your %s budget is used, %s left", ratio*100, b.Period, remaining),
		}, true
	case ratio >= 0.75:
		return ports.Insight{
			Type:     TypeBudgetWarning,
			Priority: ports.PriorityMedium,
			Title:    "Budget check",
			Message:  fmt.Sprintf("%.0f%% of your %s budget is used, %s left", ratio*100, b.Period, remaining),
		}, true
	}
	return ports.Insight{}, false
}

func categoryInsight(cat core.Category, spent core.Money, cl core.CategoryLimit) (ports.Insight, bool) {
	if cl.Limit.Cents <= 0 {
		return ports.Insight{}, false
	}
	threshold := cl.AlertThreshold
	if threshold <= 0 {
		threshold = core.DefaultAlertThreshold
	}
	cl.Spent = spent
	ratio := cl.UsedRatio()
	switch {
	case ratio >= 1:
		return ports.Insight{
			Type:     TypeCategoryLimit,
			Priority: ports.PriorityCritical,
			Title:    "Category limit exceeded",
			Message:  fmt.Sprintf("%s spending is %s, over the %s limit", cat, spent, cl.Limit),
		}, true
	case ratio >= threshold:
		return ports.Insight{
			Type:     TypeCategoryLimit,
			Priority: ports.PriorityHigh,
			Title:    "Category limit close",
			Message:  fmt.Sprintf("%s spending reached %.0f%% of its %s limit", cat, ratio*100, cl.Limit),
		}, true
	}
	return ports.Insight{}, false
}
