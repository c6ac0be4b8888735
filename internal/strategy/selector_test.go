package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	engerrors "github.com/ducminhle1904/virtual-autotrader/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogThresholds(t *testing.T) {
	conservative, ok := Lookup(Conservative)
	require.True(t, ok)
	aggressive, ok := Lookup(Aggressive)
	require.True(t, ok)

	assert.Equal(t, 85, conservative.MinConfidence)
	assert.Equal(t, 70, aggressive.MinConfidence)
	assert.Greater(t, conservative.MinConfidence, aggressive.MinConfidence)
	assert.Len(t, All(), 2)
	assert.Equal(t, Conservative, Default().Kind)
}

func TestAdmitsIsInclusive(t *testing.T) {
	tests := []struct {
		name       string
		kind       Kind
		confidence float64
		want       bool
	}{
		{"aggressive exactly at threshold", Aggressive, 70, true},
		{"aggressive one below", Aggressive, 69, false},
		{"aggressive fractional below", Aggressive, 69.99, false},
		{"conservative exactly at threshold", Conservative, 85, true},
		{"conservative one below", Conservative, 84, false},
		{"conservative above", Conservative, 97, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MustLookup(tt.kind).Admits(tt.confidence))
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Aggressive ")
	require.NoError(t, err)
	assert.Equal(t, Aggressive, k)

	_, err = ParseKind("yolo")
	assert.True(t, errors.Is(err, engerrors.ErrUnknownStrategy))
}

func TestKindJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(MustLookup(Aggressive))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"aggressive","min_confidence":70}`, string(data))

	var s Strategy
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, MustLookup(Aggressive), s)
}

func TestSelectorStagingDoesNotChangeActive(t *testing.T) {
	sel := NewSelector(MustLookup(Conservative))

	require.NoError(t, sel.Select(Aggressive))
	assert.Equal(t, Conservative, sel.Active().Kind)
	assert.Equal(t, Aggressive, sel.Selected().Kind)

	staged, ok := sel.Staged()
	require.True(t, ok)
	assert.Equal(t, Aggressive, staged.Kind)
}

func TestSelectorConfirmPersistsAndActivates(t *testing.T) {
	sel := NewSelector(MustLookup(Conservative))
	require.NoError(t, sel.Select(Aggressive))

	var persisted Kind = -1
	active, err := sel.Confirm(context.Background(), func(_ context.Context, k Kind) error {
		persisted = k
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, Aggressive, persisted)
	assert.Equal(t, Aggressive, active.Kind)
	assert.Equal(t, Aggressive, sel.Active().Kind)

	_, staged := sel.Staged()
	assert.False(t, staged)
}

func TestSelectorConfirmRetainsPriorOnPersistenceFailure(t *testing.T) {
	sel := NewSelector(MustLookup(Conservative))
	require.NoError(t, sel.Select(Aggressive))

	boom := errors.New("store offline")
	active, err := sel.Confirm(context.Background(), func(context.Context, Kind) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Conservative, active.Kind)
	assert.Equal(t, Conservative, sel.Active().Kind)

	_, staged := sel.Staged()
	assert.True(t, staged, "candidate stays staged so the change can be retried")
}

func TestSelectorCancelRevertsSelection(t *testing.T) {
	sel := NewSelector(MustLookup(Conservative))
	require.NoError(t, sel.Select(Aggressive))

	sel.Cancel()
	assert.Equal(t, Conservative, sel.Selected().Kind)

	_, err := sel.Confirm(context.Background(), nil)
	assert.ErrorIs(t, err, engerrors.ErrNoStagedStrategy)
}

func TestSelectorRejectsUnknownKind(t *testing.T) {
	sel := NewSelector(Default())
	err := sel.Select(Kind(42))
	assert.ErrorIs(t, err, engerrors.ErrUnknownStrategy)
	assert.Equal(t, engerrors.ErrorCategoryValidation, engerrors.CategoryOf(err))
}
