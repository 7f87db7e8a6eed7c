package policy

import (
	"context"
	"time"

	"github.com/goodtune/lockbox/internal/subscription"
	"github.com/goodtune/lockbox/internal/usage"
	"github.com/rs/zerolog"
)

// Decision reasons
const (
	ReasonNoBudget     = "no_budget"
	ReasonDailyLimit   = "daily_limit"
	ReasonNoCap        = "no_cap"
	ReasonOutsideSlots = "outside_slots"
	ReasonTimeSlot     = "time_slot"
)

// Decision is the outcome of a lock evaluation
type Decision struct {
	Lock       bool   `json:"lock"`
	Reason     string `json:"reason"`
	ActiveSlot string `json:"active_slot"`
}

// Decider evaluates the lock rule
type Decider interface {
	Decide(ctx context.Context, settings subscription.Settings, record usage.Record, now time.Time) (Decision, error)
}

// Native is the built-in Decider.
type Native struct{}

func (Native) Decide(_ context.Context, settings subscription.Settings, record usage.Record, now time.Time) (Decision, error) {
	return Evaluate(settings, record, now), nil
}

// Engine asks a Decider and falls back to the native rule when it fails.
type Engine struct {
	decider Decider
	logger  zerolog.Logger
}

// NewEngine creates a policy engine around decider. A nil decider means Native.
func NewEngine(decider Decider, logger zerolog.Logger) *Engine {
	if decider == nil {
		decider = Native{}
	}
	return &Engine{
		decider: decider,
		logger:  logger.With().Str("component", "policy").Logger(),
	}
}

// Decide never fails; decider errors are logged and answered natively.
func (e *Engine) Decide(ctx context.Context, settings subscription.Settings, record usage.Record, now time.Time) Decision {
	decision, err := e.decider.Decide(ctx, settings, record, now)
	if err != nil {
		e.logger.Error().Err(err).Msg("Policy evaluation failed, falling back to native rule")
		return Evaluate(settings, record, now)
	}
	return decision
}
