package signal

import (
	"context"
	"errors"
	"fmt"

	engerrors "github.com/ducminhle1904/virtual-autotrader/internal/errors"
	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
	"github.com/ducminhle1904/virtual-autotrader/internal/strategy"
)

// Outcome of one admission decision
type Outcome string

const (
	OutcomeIgnored            Outcome = "ignored"
	OutcomeRejectedInvalid    Outcome = "rejected_invalid"
	OutcomeRejectedConfidence Outcome = "rejected_confidence"
	OutcomeRejectedDuplicate  Outcome = "rejected_duplicate"
	OutcomeFailed             Outcome = "failed"
	OutcomeExecuted           Outcome = "executed"
)

// Logged reports whether the outcome belongs in trading history
func (o Outcome) Logged() bool {
	return o != OutcomeIgnored
}

// Decision is the filter's verdict on one signal
type Decision struct {
	Outcome  Outcome             `json:"outcome"`
	Reason   string              `json:"reason,omitempty"`
	Position *portfolio.Position `json:"position,omitempty"`
	Err      error               `json:"-"`
}

// Opener is the part of the position manager the filter needs
type Opener interface {
	HasPosition(symbol string) bool
	Open(ctx context.Context, order portfolio.Order, strat strategy.Strategy) (portfolio.Position, error)
}

// Filter decides whether a signal becomes a position. The caller must
// serialize Evaluate calls so the exposure check and the open are atomic.
type Filter struct {
	opener Opener
}

func NewFilter(opener Opener) *Filter {
	return &Filter{opener: opener}
}

// Evaluate applies the admission rules in order, stopping at the first
// that fails.
func (f *Filter) Evaluate(ctx context.Context, sig Signal, enabled bool, strat strategy.Strategy) Decision {
	if !enabled {
		return Decision{Outcome: OutcomeIgnored}
	}

	if err := sig.Validate(); err != nil {
		return Decision{
			Outcome: OutcomeRejectedInvalid,
			Reason:  fmt.Sprintf("Rejected signal %q: %v", sig.Symbol, err),
			Err:     err,
		}
	}
	order := sig.Order()

	if !strat.Admits(sig.Confidence) {
		return Decision{
			Outcome: OutcomeRejectedConfidence,
			Reason: fmt.Sprintf("Rejected %s: confidence %.1f%% is %.1f%% short of the %s strategy minimum of %d%%",
				order.Symbol, sig.Confidence, float64(strat.MinConfidence)-sig.Confidence, strat.Kind, strat.MinConfidence),
		}
	}

	if f.opener.HasPosition(order.Symbol) {
		return duplicate(order.Symbol, nil)
	}

	pos, err := f.opener.Open(ctx, order, strat)
	switch {
	case err == nil:
		return Decision{
			Outcome:  OutcomeExecuted,
			Position: &pos,
			Reason: fmt.Sprintf("Opened %s %s @ %.2f size %.6f (confidence %.0f%%, %s)",
				pos.Direction, pos.Symbol, pos.EntryPrice, pos.Size, pos.Confidence, strat.Kind),
		}
	case errors.Is(err, engerrors.ErrDuplicatePosition):
		return duplicate(order.Symbol, err)
	case errors.Is(err, engerrors.ErrInvalidEntry):
		return Decision{
			Outcome: OutcomeRejectedInvalid,
			Reason:  fmt.Sprintf("Rejected %s: entry price %v cannot be sized", order.Symbol, order.Entry),
			Err:     err,
		}
	default:
		return Decision{
			Outcome: OutcomeFailed,
			Reason:  fmt.Sprintf("Failed to open %s: %v", order.Symbol, err),
			Err:     err,
		}
	}
}

func duplicate(symbol string, err error) Decision {
	return Decision{
		Outcome: OutcomeRejectedDuplicate,
		Reason:  fmt.Sprintf("Skipped %s: a position is already open for this symbol", symbol),
		Err:     err,
	}
}
