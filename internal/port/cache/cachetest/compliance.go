// Package cachetest holds the compliance suite every cache adapter runs.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/FeedbackForge/internal/port/cache"
)

// Run exercises c against the cache port contract. wait is called after
// writes for adapters that apply them asynchronously; it may be nil.
func Run(t *testing.T, c cache.Cache, wait func()) {
	t.Helper()
	ctx := context.Background()
	settle := func() {
		if wait != nil {
			wait()
		}
	}

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "agent:a.test", []byte(`{"agentId":1}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		settle()
		val, found, err := c.Get(ctx, "agent:a.test")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != `{"agentId":1}` {
			t.Fatalf("expected stored value, got %q (found=%v)", val, found)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "agent:missing")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "agent:del", []byte("x"), time.Minute)
		settle()
		if err := c.Delete(ctx, "agent:del"); err != nil {
			t.Fatal(err)
		}
		if _, found, _ := c.Get(ctx, "agent:del"); found {
			t.Fatal("expected miss after Delete")
		}
		if err := c.Delete(ctx, "agent:never"); err != nil {
			t.Fatalf("Delete of nonexistent key should not error: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "agent:ow", []byte("v1"), time.Minute)
		settle()
		_ = c.Set(ctx, "agent:ow", []byte("v2"), time.Minute)
		settle()
		val, found, err := c.Get(ctx, "agent:ow")
		if err != nil || !found || string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %q found=%v err=%v", val, found, err)
		}
	})
}

// Memory is a map-backed cache for tests.
type Memory struct {
	Data map[string][]byte
	Err  error
}

// NewMemory returns an empty Memory cache.
func NewMemory() *Memory { return &Memory{Data: make(map[string][]byte)} }

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.Err != nil {
		return nil, false, m.Err
	}
	v, ok := m.Data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.Err != nil {
		return m.Err
	}
	m.Data[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if m.Err != nil {
		return m.Err
	}
	delete(m.Data, key)
	return nil
}
