package services

import (
	"errors"
	"sort"
)

// Model tiers metered by the gateway.
const (
	TierBasicVision    = "basic-vision"
	TierAdvancedVision = "advanced-vision"
)

// Unlimited is the Limit value of a tier with no daily cap.
const Unlimited int64 = -1

const (
	PlanFree     = "free"
	PlanBasic    = "basic"
	PlanStandard = "standard"
	PlanPremium  = "premium"
)

var ErrUnknownPlan = errors.New("unknown plan")

type Plan struct {
	ID     string
	Limits map[string]int64
}

// Limit returns the daily allowance for tier. Tiers the plan does not list get 0.
func (p Plan) Limit(tier string) int64 {
	if limit, ok := p.Limits[tier]; ok {
		return limit
	}
	return 0
}

func (p Plan) Tiers() []string {
	tiers := make([]string, 0, len(p.Limits))
	for tier := range p.Limits {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	return tiers
}

type PlanRegistry struct {
	plans       map[string]Plan
	defaultPlan string
}

func NewPlanRegistry(plans []Plan, defaultPlan string) *PlanRegistry {
	registry := &PlanRegistry{plans: make(map[string]Plan, len(plans)), defaultPlan: defaultPlan}
	for _, plan := range plans {
		limits := make(map[string]int64, len(plan.Limits))
		for tier, limit := range plan.Limits {
			limits[tier] = limit
		}
		registry.plans[plan.ID] = Plan{ID: plan.ID, Limits: limits}
	}
	return registry
}

// NewDefaultPlanRegistry returns the published pricing table.
func NewDefaultPlanRegistry() *PlanRegistry {
	return NewPlanRegistry([]Plan{
		{ID: PlanFree, Limits: map[string]int64{TierBasicVision: 3, TierAdvancedVision: 0}},
		{ID: PlanBasic, Limits: map[string]int64{TierBasicVision: 10, TierAdvancedVision: 3}},
		{ID: PlanStandard, Limits: map[string]int64{TierBasicVision: Unlimited, TierAdvancedVision: 10}},
		{ID: PlanPremium, Limits: map[string]int64{TierBasicVision: Unlimited, TierAdvancedVision: Unlimited}},
	}, PlanFree)
}

func (r *PlanRegistry) Lookup(planID string) (Plan, error) {
	plan, ok := r.plans[planID]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return plan, nil
}

// Resolve never fails: an unknown plan id falls back to the default plan.
func (r *PlanRegistry) Resolve(planID string) (Plan, bool) {
	if plan, err := r.Lookup(planID); err == nil {
		return plan, true
	}
	return r.plans[r.defaultPlan], false
}
