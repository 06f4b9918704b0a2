package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("conv:1")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, k.Held())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA := k.Lock("a")

	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b waited for a")
	}
	assert.Equal(t, 1, k.Held())

	unlockA()
	unlockA()
	assert.Zero(t, k.Held())
}

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "direct:2:7", directLockKey(7, 2))
	assert.Equal(t, "contact:2:7", contactLockKey(2, 7))
	assert.Equal(t, "conv:3", convLockKey(3))
	assert.Equal(t, "msg:4", messageLockKey(4))
	assert.Equal(t, "group-name:Trip", groupNameLockKey("Trip"))
}
