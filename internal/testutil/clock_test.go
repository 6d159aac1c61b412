package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestFakeClock_StandsStill(t *testing.T) {
	clock := NewFakeClock(start)
	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(start)

	got := clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, start.Add(1500*time.Millisecond), got)
	assert.Equal(t, got, clock.Now())

	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(start)
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(goroutines*time.Second), clock.Now())
}
