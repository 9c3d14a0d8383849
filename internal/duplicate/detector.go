// Package duplicate flags likely double submissions of the same expense.
// Like the anomaly detector it is advisory and fails open.
package duplicate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/log"
)

const (
	// RecentLimit is how many of the owner's newest records are checked.
	RecentLimit = 30
	// DefaultCacheTTL bounds how long one owner's recent history is reused.
	DefaultCacheTTL = 30 * time.Second

	closeRatio = 0.05
	nearRatio  = 0.20
	sameWindow = time.Hour
)

// HistorySource returns an owner's most recent records, newest first.
type HistorySource interface {
	RecentExpenses(ctx context.Context, ownerID string, limit int) ([]core.Expense, error)
}

type Result struct {
	IsDuplicate   bool
	Confidence    int // 0..100
	ShouldProceed bool
	Reason        string
	MatchID       string
	Fingerprint   string
}

// Proceed is the fail-open result.
var Proceed = Result{ShouldProceed: true}

type Detector struct {
	source HistorySource
	recent *cache.LRUCache[[]core.Expense]
	logger *log.Logger
}

// NewDetector caches up to maxOwners histories for ttl each.
func NewDetector(source HistorySource, maxOwners int, ttl time.Duration, logger *log.Logger) *Detector {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Detector{
		source: source,
		recent: cache.NewLRUCache[[]core.Expense](maxOwners, ttl),
		logger: logger.WithComponent(log.ComponentDuplicate),
	}
}

// Cache exposes the history cache so it can be registered for periodic cleanup.
func (d *Detector) Cache() *cache.LRUCache[[]core.Expense] { return d.recent }

// Check compares candidate with the owner's recent records.
func (d *Detector) Check(ctx context.Context, candidate core.ExpenseInput) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "Duplicate check panicked, proceeding",
				log.FieldOwner, candidate.OwnerID, "panic", fmt.Sprint(r))
			res = Proceed
		}
	}()

	history, err := d.history(ctx, candidate.OwnerID)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to load recent expenses for duplicate check, proceeding",
			log.FieldOwner, candidate.OwnerID, log.FieldError, err)
		return Proceed
	}
	return Match(candidate, history)
}

// Remember records a freshly persisted expense in the owner's cached
// history so a second scan moments later still sees it.
func (d *Detector) Remember(e core.Expense) {
	h, ok := d.recent.Get(e.OwnerID)
	if !ok {
		return
	}
	next := make([]core.Expense, 0, len(h)+1)
	next = append(next, e)
	next = append(next, h...)
	if len(next) > RecentLimit {
		next = next[:RecentLimit]
	}
	d.recent.Set(e.OwnerID, next)
}

// Forget drops the owner's cached history.
func (d *Detector) Forget(ownerID string) {
	d.recent.Delete(ownerID)
}

func (d *Detector) history(ctx context.Context, ownerID string) ([]core.Expense, error) {
	if h, ok := d.recent.Get(ownerID); ok {
		return h, nil
	}
	if d.source == nil {
		return nil, nil
	}
	h, err := d.source.RecentExpenses(ctx, ownerID, RecentLimit)
	if err != nil {
		return nil, err
	}
	d.recent.Set(ownerID, h)
	return h, nil
}

// Match applies the rules to candidate and history in order. Same-day
// comparisons, including the soft warning, run before the one-hour window.
func Match(candidate core.ExpenseInput, history []core.Expense) Result {
	fp := Fingerprint(candidate.Merchant.Name, candidate.Amount, candidate.Date, len(candidate.Items))
	name := normalizeMerchant(candidate.Merchant.Name)
	day := core.StartOfDay(candidate.Date)

	for _, e := range history {
		if Fingerprint(e.Merchant.Name, e.Amount, e.Date, len(e.Items)) == fp {
			return Result{
				IsDuplicate: true, Confidence: 100, MatchID: e.ID, Fingerprint: fp,
				Reason: fmt.Sprintf("identical expense at %s for %s already recorded", e.Merchant.Name, e.Amount),
			}
		}
	}

	var sameMerchant []core.Expense
	for _, e := range history {
		if normalizeMerchant(e.Merchant.Name) == name {
			sameMerchant = append(sameMerchant, e)
		}
	}

	for _, e := range sameMerchant {
		if core.StartOfDay(e.Date).Equal(day) && relDiff(candidate.Amount, e.Amount) <= closeRatio {
			return Result{
				IsDuplicate: true, Confidence: 95, MatchID: e.ID, Fingerprint: fp,
				Reason: fmt.Sprintf("%s at %s on the same day is within 5%% of this amount", e.Amount, e.Merchant.Name),
			}
		}
	}

	for _, e := range sameMerchant {
		if core.StartOfDay(e.Date).Equal(day) && relDiff(candidate.Amount, e.Amount) <= nearRatio {
			return Result{
				Confidence: 70, ShouldProceed: true, MatchID: e.ID, Fingerprint: fp,
				Reason: fmt.Sprintf("similar expense of %s at %s today", e.Amount, e.Merchant.Name),
			}
		}
	}

	for _, e := range sameMerchant {
		if e.Amount == candidate.Amount && absDuration(candidate.Date.Sub(e.Date)) <= sameWindow {
			return Result{
				IsDuplicate: true, Confidence: 90, MatchID: e.ID, Fingerprint: fp,
				Reason: fmt.Sprintf("same amount at %s within the last hour", e.Merchant.Name),
			}
		}
	}

	return Result{ShouldProceed: true, Fingerprint: fp}
}

// Fingerprint hashes the normalized merchant, amount, UTC day and item count.
func Fingerprint(merchant string, amount core.Money, date time.Time, items int) string {
	data := fmt.Sprintf("exp:%s:%d:%s:%d",
		normalizeMerchant(merchant), amount.Cents, date.UTC().Format("2006-01-02"), items)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}

func normalizeMerchant(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// relDiff is |a-b| relative to the larger amount.
func relDiff(a, b core.Money) float64 {
	hi := math.Max(float64(a.Cents), float64(b.Cents))
	if hi <= 0 {
		return 0
	}
	return math.Abs(float64(a.Cents-b.Cents)) / hi
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
