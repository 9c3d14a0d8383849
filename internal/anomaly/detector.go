// Package anomaly scores a candidate expense against the owner's recent
// history. The detector is advisory: it never returns an error and any
// internal failure yields "no anomaly".
package anomaly

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ledger/internal/core"
	"ledger/internal/log"
)

const (
	// MinHistory is the number of prior records needed before any rule runs.
	MinHistory = 5
	// HistoryLimit caps how many recent records are considered.
	HistoryLimit = 200

	dormantWindow = 30 * 24 * time.Hour
)

const (
	TypeHighAmount      Type = "high_amount"
	TypeNewMerchant     Type = "new_merchant"
	TypeDormantCategory Type = "dormant_category"
	TypeDailyBurst      Type = "daily_burst"

	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type (
	Type     string
	Severity string

	Comparison struct {
		Current    core.Money
		Average    core.Money
		Multiplier float64
	}

	Result struct {
		IsAnomaly  bool
		Type       Type
		Severity   Severity
		Reason     string
		Comparison *Comparison
	}
)

// None is the safe default result.
var None = Result{}

type Detector struct {
	logger *log.Logger
	now    func() time.Time
}

func NewDetector(logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.Discard()
	}
	return &Detector{logger: logger.WithComponent(log.ComponentAnomaly), now: time.Now}
}

// WithClock returns a copy of the detector using now as its time source.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	cp := *d
	cp.now = now
	return &cp
}

// Detect evaluates the rules in order and returns the first match.
func (d *Detector) Detect(ctx context.Context, candidate core.Expense, history []core.Expense) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "Anomaly detection panicked, treating as no anomaly",
				log.FieldExpenseID, candidate.ID, "panic", fmt.Sprint(r))
			res = None
		}
	}()

	history = recent(candidate, history)
	if len(history) < MinHistory {
		return None
	}

	if r, ok := d.highAmountForCategory(candidate, history); ok {
		return r
	}
	if r, ok := d.newMerchantHighAmount(candidate, history); ok {
		return r
	}
	if r, ok := d.dormantCategory(candidate, history); ok {
		return r
	}
	if r, ok := d.dailyBurst(candidate, history); ok {
		return r
	}
	return None
}

// recent drops the candidate itself and keeps the newest HistoryLimit records.
func recent(candidate core.Expense, history []core.Expense) []core.Expense {
	out := make([]core.Expense, 0, len(history))
	for _, e := range history {
		if candidate.ID != "" && e.ID == candidate.ID {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if len(out) > HistoryLimit {
		out = out[:HistoryLimit]
	}
	return out
}

func mean(xs []core.Expense) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum int64
	for _, e := range xs {
		sum += e.Amount.Cents
	}
	return float64(sum) / float64(len(xs))
}

func sameCategory(c core.Category, history []core.Expense) []core.Expense {
	var out []core.Expense
	for _, e := range history {
		if e.Merchant.Category == c {
			out = append(out, e)
		}
	}
	return out
}

func (d *Detector) highAmountForCategory(candidate core.Expense, history []core.Expense) (Result, bool) {
	inCat := sameCategory(candidate.Merchant.Category, history)
	avg := mean(inCat)
	if avg <= 0 {
		return None, false
	}
	mult := float64(candidate.Amount.Cents) / avg

	var sev Severity
	switch {
	case mult >= 5:
		sev = SeverityHigh
	case mult >= 3:
		sev = SeverityMedium
	default:
		return None, false
	}
	average := core.Money{Cents: int64(avg + 0.5)}
	return Result{
		IsAnomaly: true,
		Type:      TypeHighAmount,
		Severity:  sev,
		Reason: fmt.Sprintf("%s is %.1fx your average %s spend of %s",
			candidate.Amount, mult, candidate.Merchant.Category, average),
		Comparison: &Comparison{Current: candidate.Amount, Average: average, Multiplier: mult},
	}, true
}

func (d *Detector) newMerchantHighAmount(candidate core.Expense, history []core.Expense) (Result, bool) {
	name := strings.ToLower(strings.TrimSpace(candidate.Merchant.Name))
	for _, e := range history {
		if strings.ToLower(strings.TrimSpace(e.Merchant.Name)) == name {
			return None, false
		}
	}
	avg := mean(history)
	if avg <= 0 || float64(candidate.Amount.Cents) <= 3*avg {
		return None, false
	}
	mult := float64(candidate.Amount.Cents) / avg
	average := core.Money{Cents: int64(avg + 0.5)}
	return Result{
		IsAnomaly:  true,
		Type:       TypeNewMerchant,
		Severity:   SeverityMedium,
		Reason:     fmt.Sprintf("first purchase at %s is %.1fx your average expense", strings.TrimSpace(candidate.Merchant.Name), mult),
		Comparison: &Comparison{Current: candidate.Amount, Average: average, Multiplier: mult},
	}, true
}

func (d *Detector) dormantCategory(candidate core.Expense, history []core.Expense) (Result, bool) {
	inCat := sameCategory(candidate.Merchant.Category, history)
	if len(inCat) == 0 {
		return None, false
	}
	cutoff := d.now().Add(-dormantWindow)
	var last time.Time
	for _, e := range inCat {
		if e.Date.After(cutoff) {
			return None, false
		}
		if e.Date.After(last) {
			last = e.Date
		}
	}
	return Result{
		IsAnomaly: true,
		Type:      TypeDormantCategory,
		Severity:  SeverityLow,
		Reason: fmt.Sprintf("no %s expenses since %s",
			candidate.Merchant.Category, last.Format("2006-01-02")),
	}, true
}

func (d *Detector) dailyBurst(candidate core.Expense, history []core.Expense) (Result, bool) {
	today := core.StartOfDay(d.now())
	tomorrow := today.AddDate(0, 0, 1)
	// backdated records are not part of today's burst
	if !core.StartOfDay(candidate.Date).Equal(today) {
		return None, false
	}

	var total, todaySum int64
	todayCount := 0
	for _, e := range history {
		total += e.Amount.Cents
		if !e.Date.Before(today) && e.Date.Before(tomorrow) {
			todaySum += e.Amount.Cents
			todayCount++
		}
	}
	todaySum += candidate.Amount.Cents

	dailyNorm := float64(total) / 30
	if todayCount < 3 || float64(todaySum) <= 5*dailyNorm {
		return None, false
	}
	average := core.Money{Cents: int64(dailyNorm + 0.5)}
	mult := 0.0
	if dailyNorm > 0 {
		mult = float64(todaySum) / dailyNorm
	}
	return Result{
		IsAnomaly: true,
		Type:      TypeDailyBurst,
		Severity:  SeverityMedium,
		Reason: fmt.Sprintf("%d expenses today totalling %s, %.1fx your usual daily spend",
			todayCount+1, core.Money{Cents: todaySum}, mult),
		Comparison: &Comparison{Current: core.Money{Cents: todaySum}, Average: average, Multiplier: mult},
	}, true
}
