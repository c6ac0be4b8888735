package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	engerrors "github.com/ducminhle1904/virtual-autotrader/internal/errors"
	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
)

// Action is the trade direction a signal recommends
type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
)

// Normalize folds case and trims surrounding space
func (a Action) Normalize() Action {
	return Action(strings.ToLower(strings.TrimSpace(string(a))))
}

// UnmarshalText normalizes wire values
func (a *Action) UnmarshalText(text []byte) error {
	*a = Action(text).Normalize()
	return nil
}

// Direction maps the action onto a position direction
func (a Action) Direction() portfolio.Direction {
	if a.Normalize() == Sell {
		return portfolio.Short
	}
	return portfolio.Long
}

// Signal is an externally produced trade recommendation. The JSON shape
// matches the signal source response.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"` // percent, 0-100
	Entry      float64   `json:"entry"`
	StopLoss   float64   `json:"stopLoss"`
	TakeProfit float64   `json:"takeProfit"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Validate checks the fields the admission filter relies on. Price levels
// are checked when the position is sized.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return engerrors.NewValidationError("signal", "validate", "symbol is empty", engerrors.ErrInvalidSignal)
	}
	if action := s.Action.Normalize(); action != Buy && action != Sell {
		return engerrors.NewValidationError("signal", "validate",
			fmt.Sprintf("unknown action %q", s.Action), engerrors.ErrInvalidSignal)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 100 {
		return engerrors.NewValidationError("signal", "validate",
			fmt.Sprintf("confidence %v outside 0-100", s.Confidence), engerrors.ErrInvalidSignal)
	}
	return nil
}

// Order converts the signal into a position request
func (s Signal) Order() portfolio.Order {
	return portfolio.Order{
		Symbol:     strings.ToUpper(strings.TrimSpace(s.Symbol)),
		Direction:  s.Action.Direction(),
		Entry:      s.Entry,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		Confidence: s.Confidence,
	}
}

// Request asks a signal source for analysis of symbols
type Request struct {
	Symbols       []string `json:"symbols"`
	AnalysisTypes []string `json:"analysisTypes"`
}

// Source produces signals on demand
type Source interface {
	Fetch(ctx context.Context, req Request) ([]Signal, error)
}

// Feed delivers signals until ctx is cancelled. Run blocks; deliver is
// called from the feed's goroutine in arrival order.
type Feed interface {
	Name() string
	Run(ctx context.Context, deliver func(Signal)) error
}

// Decode parses a single signal object or an array of them
func Decode(data []byte) ([]Signal, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var many []Signal
		if err := json.Unmarshal(data, &many); err != nil {
			return nil, fmt.Errorf("failed to decode signals: %w", err)
		}
		return many, nil
	}
	var one Signal
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("failed to decode signal: %w", err)
	}
	return []Signal{one}, nil
}
