package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResourceCacheContract runs the same checks against every implementation.
func TestResourceCacheContract(t *testing.T) {
	ctx := context.Background()

	svc := NewService(ServiceConfig{Capacity: 10})
	defer svc.Close()

	impls := map[string]ResourceCache{
		"Mock":    NewMockResourceCache(),
		"Service": svc,
	}

	for name, c := range impls {
		t.Run(name, func(t *testing.T) {
			key := Key{Operation: "read", Kind: "persona", Name: "architect"}

			t.Run("SetAndGet", func(t *testing.T) {
				require.NoError(t, c.Set(ctx, key, []byte("v1"), time.Hour))
				v, ok := c.Get(ctx, key)
				assert.True(t, ok)
				assert.Equal(t, []byte("v1"), v)
			})

			t.Run("LastWriteWins", func(t *testing.T) {
				require.NoError(t, c.Set(ctx, key, []byte("v2"), time.Hour))
				v, _ := c.Get(ctx, key)
				assert.Equal(t, []byte("v2"), v)
			})

			t.Run("ValuesAreCopied", func(t *testing.T) {
				k := Key{Operation: "read", Kind: "project", Name: "context"}
				in := []byte("abc")
				require.NoError(t, c.Set(ctx, k, in, time.Hour))
				in[0] = 'x'

				out, ok := c.Get(ctx, k)
				require.True(t, ok)
				assert.Equal(t, []byte("abc"), out)

				out[1] = 'y'
				again, _ := c.Get(ctx, k)
				assert.Equal(t, []byte("abc"), again)
			})

			t.Run("Missing", func(t *testing.T) {
				_, ok := c.Get(ctx, Key{Operation: "read", Kind: "persona", Name: "nobody"})
				assert.False(t, ok)
			})

			t.Run("InvalidateByKind", func(t *testing.T) {
				other := Key{Operation: "read", Kind: "template", Name: "x"}
				require.NoError(t, c.Set(ctx, other, []byte("t"), time.Hour))

				n := c.Invalidate(ctx, MatchKind("persona"))
				assert.Equal(t, 1, n)

				_, ok := c.Get(ctx, key)
				assert.False(t, ok)
				_, ok = c.Get(ctx, other)
				assert.True(t, ok)
			})
		})
	}
}

func TestKey_String(t *testing.T) {
	k := Key{Operation: "read", Kind: "persona", Name: "qa"}
	assert.Equal(t, "read:persona:qa", k.String())
}

func TestMatchers(t *testing.T) {
	k := Key{Operation: "read", Kind: "persona", Name: "qa"}
	assert.True(t, MatchKind("persona")(k))
	assert.False(t, MatchKind("template")(k))
	assert.True(t, MatchOperation("read")(k))
	assert.False(t, MatchOperation("list")(k))
	assert.True(t, MatchAll(k))
}
