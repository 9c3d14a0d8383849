// Package rewards awards experience points for ledger actions and unlocks
// milestone badges.
package rewards

import (
	"context"
	"fmt"
	"sync"

	"ledger/internal/ports"
)

const (
	ActionAddExpense  = "add_expense"
	ActionScanReceipt = "scan_receipt"
	ActionImport      = "import_expense"
	ActionSetBudget   = "set_budget"
)

var actionXP = map[string]int{
	ActionAddExpense:  10,
	ActionScanReceipt: 15,
	ActionImport:      5,
	ActionSetBudget:   20,
}

type milestone struct {
	xp    int
	badge string
}

// ordered by xp
var milestones = []milestone{
	{10, "first_steps"},
	{100, "bookkeeper"},
	{500, "budget_keeper"},
	{2000, "ledger_master"},
}

// Engine keeps per-owner XP in memory.
type Engine struct {
	mu sync.Mutex
	xp map[string]int
}

func NewEngine() *Engine {
	return &Engine{xp: make(map[string]int)}
}

// AwardXP implements ports.Gamification.
func (e *Engine) AwardXP(_ context.Context, ownerID, action string) (ports.Reward, error) {
	gain, ok := actionXP[action]
	if !ok {
		return ports.Reward{}, fmt.Errorf("unknown reward action %q", action)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.xp[ownerID]
	after := before + gain
	e.xp[ownerID] = after

	r := ports.Reward{XP: gain}
	for _, m := range milestones {
		if before < m.xp && after >= m.xp {
			r.NewBadges = append(r.NewBadges, m.badge)
		}
	}
	return r, nil
}

// Total returns the owner's accumulated XP.
func (e *Engine) Total(ownerID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.xp[ownerID]
}
