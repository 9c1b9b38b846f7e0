package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/revpass/passkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pending struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "k", pending{UserID: "u1", Code: "123456"}, time.Minute))

	var got pending
	require.NoError(t, s.Get(ctx, "k", &got))
	assert.Equal(t, pending{UserID: "u1", Code: "123456"}, got)

	// Get does not consume
	require.NoError(t, s.Get(ctx, "k", &got))
}

func TestMemoryStore_Missing(t *testing.T) {
	var got pending
	err := NewMemoryStore().Get(context.Background(), "nope", &got)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "k", "v", 10*time.Minute))

	now = now.Add(9 * time.Minute)
	var v string
	require.NoError(t, s.Get(ctx, "k", &v))
	assert.Equal(t, "v", v)

	now = now.Add(time.Minute)
	assert.ErrorIs(t, s.Get(ctx, "k", &v), common.ErrSessionNotFound)
	assert.Empty(t, s.items)
}

func TestMemoryStore_TakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "k", "v", time.Minute))

	var v string
	require.NoError(t, s.Take(ctx, "k", &v))
	assert.Equal(t, "v", v)
	assert.ErrorIs(t, s.Take(ctx, "k", &v), common.ErrSessionNotFound)
}

func TestMemoryStore_TakeConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "k", "v", time.Minute))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var v string
			if s.Take(ctx, "k", &v) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "k", "v", time.Minute))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	var v string
	assert.ErrorIs(t, s.Get(ctx, "k", &v), common.ErrSessionNotFound)
}

func TestMemoryStore_EncodeError(t *testing.T) {
	err := NewMemoryStore().Put(context.Background(), "k", make(chan int), time.Minute)
	assert.Error(t, err)
}

func TestNewID_Unique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
}
