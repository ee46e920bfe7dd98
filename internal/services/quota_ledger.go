package services

import (
	"context"
	"fmt"
	"time"

	"glowscan_go_backend/internal/metrics"
	"glowscan_go_backend/internal/models"

	"github.com/rs/zerolog"
)

type QuotaOutcome string

const (
	QuotaAllowed QuotaOutcome = "allowed"
	QuotaDenied  QuotaOutcome = "denied"
)

type QuotaDecision struct {
	Outcome   QuotaOutcome `json:"-"`
	PlanID    string       `json:"plan"`
	Tier      string       `json:"tier"`
	Limit     int64        `json:"limit"`
	Used      int64        `json:"used"`
	Remaining int64        `json:"remaining"`
	Day       string       `json:"day"`
}

func (d QuotaDecision) Allowed() bool {
	return d.Outcome == QuotaAllowed
}

type QuotaLedger struct {
	users UserStore
	plans *PlanRegistry
	store QuotaStore
	now   func() time.Time
}

func NewQuotaLedger(users UserStore, plans *PlanRegistry, store QuotaStore) *QuotaLedger {
	return &QuotaLedger{
		users: users,
		plans: plans,
		store: store,
		now:   time.Now,
	}
}

// WithClock replaces the time source; the ledger always uses the UTC date of its result.
func (l *QuotaLedger) WithClock(now func() time.Time) *QuotaLedger {
	l.now = now
	return l
}

func (l *QuotaLedger) Today() string {
	return models.DayOf(l.now())
}

// CheckAndConsume atomically charges one unit of tier for userID's current day. A denial is
// reported through the decision, not the error.
func (l *QuotaLedger) CheckAndConsume(ctx context.Context, userID, tier string) (QuotaDecision, error) {
	plan, err := l.planFor(ctx, userID)
	if err != nil {
		return QuotaDecision{}, err
	}

	day := l.Today()
	limit := plan.Limit(tier)
	used, allowed, err := l.store.Consume(ctx, userID, tier, day, limit)
	if err != nil {
		return QuotaDecision{}, fmt.Errorf("failed to consume quota: %w", err)
	}

	decision := newDecision(plan.ID, tier, day, limit, used)
	decision.Outcome = QuotaDenied
	if allowed {
		decision.Outcome = QuotaAllowed
	}
	metrics.QuotaDecisions.WithLabelValues(tier, string(decision.Outcome)).Inc()

	zerolog.Ctx(ctx).Debug().
		Str("user_id", userID).
		Str("tier", tier).
		Str("plan", plan.ID).
		Int64("used", used).
		Int64("limit", limit).
		Str("outcome", string(decision.Outcome)).
		Msg("Quota checked")
	return decision, nil
}

// Usage reports every tier of the user's plan for the current day without consuming.
func (l *QuotaLedger) Usage(ctx context.Context, userID string) ([]QuotaDecision, error) {
	plan, err := l.planFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	day := l.Today()
	usage := make([]QuotaDecision, 0, len(plan.Limits))
	for _, tier := range plan.Tiers() {
		used, err := l.store.Peek(ctx, userID, tier, day)
		if err != nil {
			return nil, fmt.Errorf("failed to read quota for %s: %w", tier, err)
		}
		limit := plan.Limit(tier)
		decision := newDecision(plan.ID, tier, day, limit, used)
		decision.Outcome = QuotaAllowed
		if limit != Unlimited && used >= limit {
			decision.Outcome = QuotaDenied
		}
		usage = append(usage, decision)
	}
	return usage, nil
}

func (l *QuotaLedger) planFor(ctx context.Context, userID string) (Plan, error) {
	user, err := l.users.GetOrCreateUser(ctx, userID, false)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to load user: %w", err)
	}
	plan, known := l.plans.Resolve(user.PlanID)
	if !known {
		zerolog.Ctx(ctx).Warn().Str("user_id", userID).Str("plan", user.PlanID).Msg("Unknown plan, using default")
	}
	return plan, nil
}

func newDecision(planID, tier, day string, limit, used int64) QuotaDecision {
	remaining := Unlimited
	if limit != Unlimited {
		remaining = limit - used
		if remaining < 0 {
			remaining = 0
		}
	}
	return QuotaDecision{
		PlanID:    planID,
		Tier:      tier,
		Limit:     limit,
		Used:      used,
		Remaining: remaining,
		Day:       day,
	}
}
