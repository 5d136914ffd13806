package tokens

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type label string

func (l label) String() string { return string(l) }

type version struct{ major, minor int }

func (v version) String() string { return fmt.Sprintf("v%d.%d", v.major, v.minor) }

type broken struct{}

func (broken) String() string { panic("no text") }

func TestEstimator_Text(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name string
		in   string
		want int
	}{
		{"Empty", "", 0},
		{"SingleLine", "abcdefgh", 3},             // ceil(8/4)=2 + 0.25 -> 3
		{"TwoLines", "abcd\nefgh", 4},             // ceil(9/4)=3 + 0.5 -> 4
		{"Unicode", "日本語テキスト", 3},                 // 7 runes -> 2 + 0.25 -> 3
		{"Longer", strings.Repeat("a", 400), 101}, // 100 + 0.25 -> 101
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.EstimateText(tt.in))
		})
	}
}

func TestEstimator_Estimate(t *testing.T) {
	e := NewEstimator()

	t.Run("StringMatchesText", func(t *testing.T) {
		n, err := e.Estimate("hello world")
		require.NoError(t, err)
		assert.Equal(t, e.EstimateText("hello world"), n)
	})

	t.Run("Bytes", func(t *testing.T) {
		n, err := e.Estimate([]byte("hello world"))
		require.NoError(t, err)
		assert.Equal(t, e.EstimateText("hello world"), n)
	})

	t.Run("Stringer", func(t *testing.T) {
		n, err := e.Estimate(label("hello world"))
		require.NoError(t, err)
		assert.Equal(t, e.EstimateText("hello world"), n)
	})

	t.Run("NilStringerPointer", func(t *testing.T) {
		var v *version
		n, err := e.Estimate(v)
		require.NoError(t, err)
		want, err := e.Estimate((*int)(nil))
		require.NoError(t, err)
		assert.Equal(t, want, n)
	})

	t.Run("StringerPointer", func(t *testing.T) {
		n, err := e.Estimate(&version{major: 1, minor: 2})
		require.NoError(t, err)
		assert.Equal(t, e.EstimateText("v1.2"), n)
	})

	t.Run("PanickingStringer", func(t *testing.T) {
		_, err := e.Estimate(broken{})
		var estErr *EstimationError
		require.True(t, errors.As(err, &estErr))
		assert.Equal(t, "tokens.broken", estErr.Type)
	})

	t.Run("Nil", func(t *testing.T) {
		n, err := e.Estimate(nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("StructuredIsInflated", func(t *testing.T) {
		v := map[string]any{"name": "architect", "weights": []int{1, 2, 3}}
		n, err := e.Estimate(v)
		require.NoError(t, err)
		// {"name":"architect","weights":[1,2,3]} is 38 chars -> 10 + 0.25 -> 10.25 * 1.1
		assert.Equal(t, 12, n)
	})

	t.Run("UnserializableFails", func(t *testing.T) {
		_, err := e.Estimate(make(chan int))
		require.Error(t, err)
		var estErr *EstimationError
		require.True(t, errors.As(err, &estErr))
		assert.Equal(t, "chan int", estErr.Type)
	})
}

func TestEstimator_ZeroValue(t *testing.T) {
	var e Estimator
	assert.Equal(t, 3, e.EstimateText("abcdefgh"))
	assert.Equal(t, 3, Estimate("abcdefgh"))
}
