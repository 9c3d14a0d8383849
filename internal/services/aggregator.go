package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ledger/internal/anomaly"
	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/events"
	"ledger/internal/forecast"
	"ledger/internal/log"
)

const (
	dashboardTTL       = 60 * time.Second
	dashboardAnomalies = 5
)

// GoalView is a goal with its completion percentage.
type GoalView struct {
	core.Goal
	Progress float64
}

// AnomalyView is one recently flagged expense.
type AnomalyView struct {
	ExpenseID string
	At        time.Time
	Result    anomaly.Result
}

// Dashboard is the combined read model for one owner and period.
type Dashboard struct {
	Period     core.PeriodKey
	Stats      core.Stats
	Prediction forecast.Prediction
	Budget     *core.Budget
	Remaining  *core.Money // nil without a total limit
	Goals      []GoalView
	Anomalies  []AnomalyView
}

// Aggregator composes ledger reads, the predictor and bus history into one view.
type Aggregator struct {
	ledger    *LedgerService
	predictor *forecast.Predictor
	bus       *events.Bus
	cache     *cache.Store
	logger    *log.Logger
	now       func() time.Time
}

func NewAggregator(ledger *LedgerService, predictor *forecast.Predictor, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.Discard()
	}
	if predictor == nil {
		predictor = forecast.NewPredictor(logger)
	}
	return &Aggregator{
		ledger:    ledger,
		predictor: predictor,
		bus:       ledger.d.Bus,
		cache:     ledger.d.Cache,
		logger:    logger.WithComponent(log.ComponentAggregator),
		now:       ledger.d.Now,
	}
}

// Dashboard builds the owner's view of period. Budget is nil when the period
// has neither a limit nor any spend.
func (a *Aggregator) Dashboard(ctx context.Context, ownerID string, period core.PeriodKey) (Dashboard, error) {
	if err := period.Validate(); err != nil {
		return Dashboard{}, err
	}
	key := fmt.Sprintf("dashboard:%s:%s", ownerID, period)
	return cache.GetOrLoad(a.cache, key, dashboardTTL, func() (Dashboard, error) {
		return a.build(ctx, ownerID, period)
	})
}

func (a *Aggregator) build(ctx context.Context, ownerID string, period core.PeriodKey) (Dashboard, error) {
	start := time.Now()
	var (
		current, previous []core.Expense
		budget            *core.Budget
		goals             []core.Goal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = a.ledger.expensesIn(gctx, ownerID, core.PeriodMonth, period.Range())
		return err
	})
	g.Go(func() error {
		var err error
		previous, err = a.ledger.expensesIn(gctx, ownerID, core.PeriodMonth, period.Previous().Range())
		return err
	})
	g.Go(func() error {
		b, err := a.ledger.GetBudget(gctx, ownerID, period)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		budget = &b
		return nil
	})
	g.Go(func() error {
		var err error
		goals, err = a.ledger.ListGoals(gctx, ownerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, fmt.Errorf("dashboard %s: %w", period, err)
	}

	in := forecast.Input{Period: period, Current: current, Previous: previous, Now: a.now()}
	var remaining *core.Money
	if budget != nil {
		in.Limit = budget.Limit()
		remaining = budget.Remaining()
	}

	d := Dashboard{
		Period:     period,
		Stats:      core.Summarize(current, core.PeriodMonth, period.Range()),
		Prediction: a.predictor.Predict(ctx, in),
		Budget:     budget,
		Remaining:  remaining,
		Goals:      make([]GoalView, 0, len(goals)),
	}
	for _, goal := range goals {
		d.Goals = append(d.Goals, GoalView{Goal: goal, Progress: goal.Progress()})
	}
	for _, ev := range a.bus.Recent(events.KindAnomalyDetected, ownerID, dashboardAnomalies) {
		p, ok := ev.Payload.(events.AnomalyDetected)
		if !ok {
			continue
		}
		d.Anomalies = append(d.Anomalies, AnomalyView{ExpenseID: p.ExpenseID, At: ev.Timestamp, Result: p.Result})
	}

	a.logger.DebugContext(ctx, "Dashboard built",
		log.FieldOwner, ownerID,
		log.FieldPeriod, string(period),
		"expenses", len(current),
		log.FieldDuration, time.Since(start).Milliseconds())
	return d, nil
}
