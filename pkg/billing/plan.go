package billing

import (
	"context"
	"maps"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billingkit/pkg/period"
)

// Plan describes a subscription plan: what it costs and how often it bills.
type Plan struct {
	ID            string
	Name          string
	UnitPrice     decimal.Decimal
	Currency      string
	Interval      period.Interval
	IntervalCount int
	TrialDays     int
}

// PlanSource resolves plan definitions. Implementations may load plans
// from configuration, a database, or the billing provider's catalog.
type PlanSource interface {
	Plan(ctx context.Context, planID string) (Plan, error)
}

type inMemPlanSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemPlanSource returns an in-memory PlanSource with a copy of the
// given plans. Panics if no plans are provided so the billing core always
// has at least one valid plan to resolve.
func NewInMemPlanSource(plans ...Plan) PlanSource {
	if len(plans) < 1 {
		panic("billing: at least one plan is required")
	}

	plansCopy := make(map[string]Plan, len(plans))
	for _, p := range plans {
		plansCopy[p.ID] = p
	}

	return &inMemPlanSource{plans: plansCopy}
}

func (s *inMemPlanSource) Plan(ctx context.Context, planID string) (Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

// Plans returns a snapshot of all loaded plans, useful in tests.
func (s *inMemPlanSource) Plans() map[string]Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.plans)
}
