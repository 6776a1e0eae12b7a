package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/passkeeper/internal/clock"
	"github.com/atinyakov/passkeeper/internal/models"
)

func newTestCache() (*Cache, *clock.FakeClock) {
	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(c), c
}

func sample(password string) models.Login {
	return models.Login{
		Hostname:      "https://example.com",
		FormSubmitURL: models.String("https://example.com"),
		Username:      "alice",
		Password:      password,
	}
}

func TestPutGet(t *testing.T) {
	c, _ := newTestCache()
	c.Put("R/example.com/passmanager1", sample("v"), time.Second)

	got, ok := c.Get("R/example.com/passmanager1")
	require.True(t, ok)
	assert.Equal(t, sample("v"), got)

	_, ok = c.Get("R/missing")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c, fake := newTestCache()
	c.Put("k", sample("v"), time.Second)

	fake.Advance(999 * time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok)

	fake.Advance(time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestPut_NonPositiveLifetimeIsNoop(t *testing.T) {
	c, fake := newTestCache()
	c.Put("k", sample("v"), 0)
	c.Put("k", sample("v"), -time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, fake.Pending())
}

func TestPut_ReplaceCancelsOldTimer(t *testing.T) {
	c, fake := newTestCache()
	c.Put("k", sample("v1"), time.Second)
	c.Put("k", sample("v2"), 10*time.Second)
	assert.Equal(t, 1, fake.Pending(), "the first timer must be stopped")

	fake.Advance(2 * time.Second)
	got, ok := c.Get("k")
	require.True(t, ok, "the 1s timer must not evict the newer entry")
	assert.Equal(t, "v2", got.Password)

	fake.Advance(8 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestExpire_StaleCallbackKeepsNewerEntry(t *testing.T) {
	c, _ := newTestCache()
	c.Put("k", sample("v1"), time.Second)
	c.mu.Lock()
	stale := c.entries["k"]
	c.mu.Unlock()

	c.Put("k", sample("v2"), time.Minute)
	c.expire("k", stale)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Password)
}

func TestGet_ReturnsCopy(t *testing.T) {
	c, _ := newTestCache()
	original := sample("v")
	c.Put("k", original, time.Minute)

	*original.FormSubmitURL = "changed by caller after put"
	got, _ := c.Get("k")
	got.Password = "mutated"
	*got.FormSubmitURL = "mutated"

	again, _ := c.Get("k")
	assert.Equal(t, "v", again.Password)
	assert.Equal(t, "https://example.com", *again.FormSubmitURL)
}

func TestDeleteAndClear(t *testing.T) {
	c, fake := newTestCache()
	c.Put("a", sample("1"), time.Minute)
	c.Put("b", sample("2"), time.Minute)
	c.Put("c", sample("3"), time.Minute)

	c.Delete("a")
	c.Delete("missing")
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, fake.Pending())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, fake.Pending())
}

func TestConcurrentAccess(t *testing.T) {
	c := New(clock.Real())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Put("k", sample("v"), time.Millisecond)
				c.Get("k")
				if j%10 == 0 {
					c.Delete("k")
				}
			}
		}()
	}
	wg.Wait()
	c.Clear()
}
