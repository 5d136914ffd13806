package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	op := NewOperationContext(logger, "assemble", "backend")
	require.NotEmpty(t, op.OperationID)

	t.Run("Fields", func(t *testing.T) {
		buf.Reset()
		op.Info(ctx, "hello", slog.Int("tokens", 12))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, op.OperationID, line[LogFieldOperationID])
		assert.Equal(t, "assemble", line[LogFieldOperation])
		assert.Equal(t, "backend", line[LogFieldPersonaID])
		assert.Equal(t, float64(12), line["tokens"])
	})

	t.Run("FinishRecords", func(t *testing.T) {
		c := NewCounters()
		op.Finish(ctx, c, nil)
		NewOperationContext(logger, "assemble", "").Finish(ctx, c, errors.New("boom"))

		stats := c.Snapshot()
		require.Len(t, stats, 1)
		assert.Equal(t, int64(2), stats[0].Calls)
		assert.Equal(t, int64(1), stats[0].Failures)
		assert.Contains(t, buf.String(), "operation failed")
	})

	t.Run("Context", func(t *testing.T) {
		_, ok := FromContext(ctx)
		assert.False(t, ok)
		got, ok := FromContext(WithOperation(ctx, op))
		require.True(t, ok)
		assert.Same(t, op, got)
	})
}

func TestCounters(t *testing.T) {
	c := NewCounters()
	c.Record("compress", 10*time.Millisecond, nil)
	c.Record("compress", 30*time.Millisecond, nil)
	c.Record("analyze", time.Millisecond, errors.New("x"))

	stats := c.Snapshot()
	require.Len(t, stats, 2)
	assert.Equal(t, "analyze", stats[0].Operation)
	assert.Equal(t, int64(1), stats[0].Failures)
	assert.Equal(t, int64(20), stats[1].AverageDuration())
	assert.Equal(t, int64(30), stats[1].MaxDuration)

	c.Reset()
	assert.Empty(t, c.Snapshot())
}
