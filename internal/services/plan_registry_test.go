package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPlanRegistryLimits(t *testing.T) {
	registry := NewDefaultPlanRegistry()

	tests := []struct {
		plan     string
		basic    int64
		advanced int64
	}{
		{PlanFree, 3, 0},
		{PlanBasic, 10, 3},
		{PlanStandard, Unlimited, 10},
		{PlanPremium, Unlimited, Unlimited},
	}

	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			plan, err := registry.Lookup(tt.plan)
			require.NoError(t, err)
			assert.Equal(t, tt.basic, plan.Limit(TierBasicVision))
			assert.Equal(t, tt.advanced, plan.Limit(TierAdvancedVision))
		})
	}
}

func TestPlanRegistryUnknownPlan(t *testing.T) {
	registry := NewDefaultPlanRegistry()

	_, err := registry.Lookup("enterprise")
	assert.ErrorIs(t, err, ErrUnknownPlan)

	plan, known := registry.Resolve("enterprise")
	assert.False(t, known)
	assert.Equal(t, PlanFree, plan.ID)
}

func TestPlanLimitMissingTier(t *testing.T) {
	plan := Plan{ID: "x", Limits: map[string]int64{TierBasicVision: 1}}
	assert.Equal(t, int64(0), plan.Limit("video"))
	assert.Equal(t, []string{TierBasicVision}, plan.Tiers())
}

func TestPlanRegistryCopiesInput(t *testing.T) {
	limits := map[string]int64{TierBasicVision: 5}
	registry := NewPlanRegistry([]Plan{{ID: "p", Limits: limits}}, "p")
	limits[TierBasicVision] = 100

	plan, err := registry.Lookup("p")
	require.NoError(t, err)
	assert.Equal(t, int64(5), plan.Limit(TierBasicVision))
}
