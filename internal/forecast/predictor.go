// Package forecast extrapolates the spend of a budget period from its
// current pace.
package forecast

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/log"
)

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"

	// TopCategories is how many category trends a prediction carries.
	TopCategories = 5

	trendBand = 10.0 // percent
)

type Trend string

type CategoryTrend struct {
	Category  core.Category
	Current   core.Money
	Projected core.Money
	Previous  core.Money
	ChangePct float64
	Trend     Trend
}

type Prediction struct {
	Period                 core.PeriodKey
	CurrentSpent           core.Money
	DailyAverage           core.Money
	PredictedTotal         core.Money
	RecommendedDailyBudget core.Money
	Limit                  *core.Money
	WillExceedBudget       bool
	Excess                 *core.Money
	DaysElapsed            int
	DaysRemaining          int
	DaysInPeriod           int
	Confidence             int // 0..100
	Categories             []CategoryTrend
}

// Input is everything a prediction is computed from.
type Input struct {
	Period   core.PeriodKey
	Current  []core.Expense
	Previous []core.Expense
	Limit    *core.Money
	Now      time.Time
}

type Predictor struct {
	logger *log.Logger
}

func NewPredictor(logger *log.Logger) *Predictor {
	if logger == nil {
		logger = log.Discard()
	}
	return &Predictor{logger: logger.WithComponent(log.ComponentForecast)}
}

// Predict never fails; on internal error it returns a prediction carrying
// only the period and the spend so far.
func (p *Predictor) Predict(ctx context.Context, in Input) (out Prediction) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "Prediction panicked, returning spend only",
				log.FieldPeriod, in.Period.String(), "panic", fmt.Sprint(r))
			out = Prediction{Period: in.Period, CurrentSpent: sum(in.Current)}
		}
	}()
	return Predict(in)
}

// Predict is the pure computation behind Predictor.Predict.
func Predict(in Input) Prediction {
	days := in.Period.Days()
	elapsed := daysElapsed(in.Period, in.Now)
	remaining := days - elapsed
	spent := sum(in.Current)

	out := Prediction{
		Period:        in.Period,
		CurrentSpent:  spent,
		DaysElapsed:   elapsed,
		DaysRemaining: remaining,
		DaysInPeriod:  days,
		Limit:         in.Limit,
	}

	divisor := decimal.NewFromInt(int64(max(elapsed, 1)))
	spentD := decimal.NewFromInt(spent.Cents)
	daily := spentD.Div(divisor)
	out.DailyAverage = toMoney(daily)
	// spent + spent/elapsed*remaining, rounded once at the end
	out.PredictedTotal = toMoney(spentD.Add(spentD.Mul(decimal.NewFromInt(int64(remaining))).Div(divisor)))

	if in.Limit != nil {
		left := in.Limit.Sub(spent)
		switch {
		case left.Cents <= 0:
			out.RecommendedDailyBudget = core.Money{}
		case remaining <= 0:
			out.RecommendedDailyBudget = left
		default:
			out.RecommendedDailyBudget = toMoney(decimal.NewFromInt(left.Cents).Div(decimal.NewFromInt(int64(remaining))))
		}
		if out.PredictedTotal.Cents > in.Limit.Cents {
			out.WillExceedBudget = true
			excess := out.PredictedTotal.Sub(*in.Limit)
			out.Excess = &excess
		}
	} else {
		out.RecommendedDailyBudget = out.DailyAverage
	}

	if days > 0 {
		out.Confidence = min(100, int(float64(elapsed)/float64(days)*100)+20)
	}
	out.Categories = categoryTrends(in.Current, in.Previous, elapsed, days)
	return out
}

func categoryTrends(current, previous []core.Expense, elapsed, days int) []CategoryTrend {
	cur := byCategory(current)
	prev := byCategory(previous)

	trends := make([]CategoryTrend, 0, len(cur))
	for cat, amount := range cur {
		projected := toMoney(decimal.NewFromInt(amount.Cents).
			Mul(decimal.NewFromInt(int64(days))).
			Div(decimal.NewFromInt(int64(max(elapsed, 1)))))
		t := CategoryTrend{Category: cat, Current: amount, Projected: projected, Previous: prev[cat], Trend: TrendStable}
		if t.Previous.Cents > 0 {
			t.ChangePct = float64(projected.Cents-t.Previous.Cents) / float64(t.Previous.Cents) * 100
		} else if projected.Cents > 0 {
			t.ChangePct = 100
		}
		switch {
		case t.ChangePct > trendBand:
			t.Trend = TrendUp
		case t.ChangePct < -trendBand:
			t.Trend = TrendDown
		}
		trends = append(trends, t)
	}
	sort.Slice(trends, func(i, j int) bool {
		if trends[i].Current.Cents != trends[j].Current.Cents {
			return trends[i].Current.Cents > trends[j].Current.Cents
		}
		return trends[i].Category < trends[j].Category
	})
	if len(trends) > TopCategories {
		trends = trends[:TopCategories]
	}
	return trends
}

// daysElapsed counts the current day as elapsed. Before the period starts
// it is 0; after it ends it is the full length.
func daysElapsed(p core.PeriodKey, now time.Time) int {
	rng := p.Range()
	switch {
	case now.Before(rng.From):
		return 0
	case !now.Before(rng.To):
		return p.Days()
	}
	return int(core.StartOfDay(now).Sub(rng.From).Hours()/24) + 1
}

func byCategory(expenses []core.Expense) map[core.Category]core.Money {
	out := make(map[core.Category]core.Money)
	for _, e := range expenses {
		out[e.Merchant.Category] = out[e.Merchant.Category].Add(e.Amount)
	}
	return out
}

func sum(expenses []core.Expense) core.Money {
	var total core.Money
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total
}

func toMoney(d decimal.Decimal) core.Money {
	return core.Money{Cents: d.Round(0).IntPart()}
}
