package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKeyLockerExcludesSameKey(t *testing.T) {
	locks := NewMemoryKeyLocker()
	ctx := context.Background()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(ctx, "ZKT-YDSF-MLG-202503-0001")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, locks.Len())
}

func TestMemoryKeyLockerIndependentKeys(t *testing.T) {
	locks := NewMemoryKeyLocker()
	ctx := context.Background()

	unlockA, err := locks.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := locks.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
	assert.Equal(t, 1, locks.Len())
}

func TestMemoryKeyLockerHonorsContext(t *testing.T) {
	locks := NewMemoryKeyLocker()

	unlock, err := locks.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// double unlock is harmless
	unlock()
	unlock()
	assert.Equal(t, 0, locks.Len())

	again, err := locks.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
}
