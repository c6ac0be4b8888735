package strategy

import (
	"fmt"
	"strings"

	engerrors "github.com/ducminhle1904/virtual-autotrader/internal/errors"
)

// Kind identifies one of the fixed risk strategies
type Kind int

const (
	Conservative Kind = iota
	Aggressive
)

func (k Kind) String() string {
	switch k {
	case Conservative:
		return "conservative"
	case Aggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := catalog[k]; !ok {
		return nil, fmt.Errorf("%w: %d", engerrors.ErrUnknownStrategy, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a strategy name (case-insensitive)
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "conservative":
		return Conservative, nil
	case "aggressive":
		return Aggressive, nil
	default:
		return 0, fmt.Errorf("%w: %q", engerrors.ErrUnknownStrategy, name)
	}
}

// Strategy is an admission policy defined solely by a minimum confidence
type Strategy struct {
	Kind          Kind `json:"kind"`
	MinConfidence int  `json:"min_confidence"` // percent, 0-100
}

// Admits reports whether a signal confidence clears the threshold (inclusive)
func (s Strategy) Admits(confidence float64) bool {
	return confidence >= float64(s.MinConfidence)
}

func (s Strategy) String() string {
	return fmt.Sprintf("%s (min confidence %d%%)", s.Kind, s.MinConfidence)
}

var catalog = map[Kind]Strategy{
	Conservative: {Kind: Conservative, MinConfidence: 85},
	Aggressive:   {Kind: Aggressive, MinConfidence: 70},
}

// Lookup returns the catalog entry for kind
func Lookup(kind Kind) (Strategy, bool) {
	s, ok := catalog[kind]
	return s, ok
}

// MustLookup returns the catalog entry for kind and panics on an unknown kind
func MustLookup(kind Kind) Strategy {
	s, ok := catalog[kind]
	if !ok {
		panic(fmt.Sprintf("strategy: unknown kind %d", int(kind)))
	}
	return s
}

// All returns every strategy in catalog order
func All() []Strategy {
	return []Strategy{catalog[Conservative], catalog[Aggressive]}
}

// Default is the strategy a fresh account starts with
func Default() Strategy {
	return catalog[Conservative]
}
