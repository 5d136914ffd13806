package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(st Store) *Service {
	return NewService(Config{ProjectKey: "proj", Now: func() time.Time { return now }}, st)
}

func TestService_Record(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(nil)

	tests := []struct {
		name    string
		rec     SessionRecord
		wantErr bool
	}{
		{"Valid", SessionRecord{PersonaID: "qa", Quality: 0.8}, false},
		{"MissingPersona", SessionRecord{Quality: 0.8}, true},
		{"QualityTooHigh", SessionRecord{PersonaID: "qa", Quality: 1.2}, true},
		{"NegativeQuality", SessionRecord{PersonaID: "qa", Quality: -0.1}, true},
		{"NegativeDuration", SessionRecord{PersonaID: "qa", Quality: 0.5, Duration: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Record(ctx, tt.rec)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRecord)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_Effectiveness(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(nil)

	_, ok := svc.Effectiveness("qa")
	assert.False(t, ok)
	assert.Equal(t, 1.0, svc.Weight("qa"), "no history keeps the score")

	t.Run("RecentRecordsDominate", func(t *testing.T) {
		require.NoError(t, svc.Record(ctx, SessionRecord{PersonaID: "qa", Quality: 0.0, RecordedAt: now.Add(-14 * 24 * time.Hour)}))
		require.NoError(t, svc.Record(ctx, SessionRecord{PersonaID: "qa", Quality: 1.0, RecordedAt: now}))

		eff, ok := svc.Effectiveness("qa")
		require.True(t, ok)
		// weights 0.25 and 1 -> 1/1.25
		assert.InDelta(t, 0.8, eff, 1e-9)
		assert.InDelta(t, 1.3, svc.Weight("qa"), 1e-9)
	})

	t.Run("Reweight", func(t *testing.T) {
		out := svc.Reweight(map[string]float64{"qa": 10, "architect": 10})
		assert.InDelta(t, 13.0, out["qa"], 1e-9)
		assert.Equal(t, 10.0, out["architect"])
	})
}

func TestService_BoundedPerPersona(t *testing.T) {
	ctx := context.Background()
	svc := NewService(Config{MaxPerPersona: 3, Now: func() time.Time { return now }}, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Record(ctx, SessionRecord{PersonaID: "qa", Quality: float64(i) / 10, RecordedAt: now}))
	}
	s := svc.Summary()["qa"]
	require.NotNil(t, s)
	assert.Equal(t, 3, s.Sessions)
	assert.InDelta(t, 0.3, s.AvgQuality, 1e-9)
}

func TestService_Summary(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(nil)

	for i, d := range []time.Duration{time.Second, 2 * time.Second, 10 * time.Second} {
		require.NoError(t, svc.Record(ctx, SessionRecord{
			PersonaID:       "debugger",
			Quality:         0.5,
			Duration:        d,
			TokenEfficiency: float64(i + 1),
			RecordedAt:      now.Add(time.Duration(i) * time.Minute),
		}))
	}

	s := svc.Summary()["debugger"]
	require.NotNil(t, s)
	assert.Equal(t, 2*time.Second, s.DurationP50)
	assert.Equal(t, 2*time.Second, s.DurationP95)
	assert.InDelta(t, 2.0, s.AvgTokenEfficiency, 1e-9)
	assert.InDelta(t, 0.5, s.Effectiveness, 1e-9)
	assert.Equal(t, now.Add(2*time.Minute), s.LastRecordedAt)
}

func TestService_Persistence(t *testing.T) {
	ctx := context.Background()
	st := NewMockStore()

	first := newTestService(st)
	require.NoError(t, first.Record(ctx, SessionRecord{PersonaID: "qa", Quality: 0.9, Duration: time.Minute, RecordedAt: now}))

	t.Run("LoadRestoresHistory", func(t *testing.T) {
		second := newTestService(st)
		require.NoError(t, second.Load(ctx))

		eff, ok := second.Effectiveness("qa")
		require.True(t, ok)
		assert.InDelta(t, 0.9, eff, 1e-9)
		assert.Equal(t, time.Minute, second.Summary()["qa"].DurationP50)
	})

	t.Run("StoreFailureLeavesHistory", func(t *testing.T) {
		st.Err = errors.New("disk full")
		defer func() { st.Err = nil }()

		err := first.Record(ctx, SessionRecord{PersonaID: "qa", Quality: 0.1})
		require.Error(t, err)
		assert.Equal(t, 1, first.Summary()["qa"].Sessions)
	})

	t.Run("Prune", func(t *testing.T) {
		require.NoError(t, first.Record(ctx, SessionRecord{PersonaID: "old", Quality: 0.5, RecordedAt: now.Add(-40 * 24 * time.Hour)}))

		n, err := first.Prune(ctx, 30*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		_, ok := first.Effectiveness("old")
		assert.False(t, ok)
	})
}

func TestPercentile(t *testing.T) {
	assert.Zero(t, percentile(nil, 50))
	values := []int64{5, 1, 4, 2, 3}
	assert.Equal(t, int64(3), percentile(values, 50))
	assert.Equal(t, int64(4), percentile(values, 95))
	assert.Equal(t, []int64{5, 1, 4, 2, 3}, values, "input is not reordered")
}
