package debounce

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_ShouldProcess(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		actor  string
		action string
		offset time.Duration
		want   bool
	}{
		{"first delivery", "u1", "bo-1:coordinator_approve", 0, true},
		{"duplicate inside window", "u1", "bo-1:coordinator_approve", 2 * time.Second, false},
		{"other actor", "u2", "bo-1:coordinator_approve", 2 * time.Second, true},
		{"other action", "u1", "bo-1:coordinator_reject", 2 * time.Second, true},
		{"window elapsed", "u1", "bo-1:coordinator_approve", 3 * time.Second, true},
	}

	d := New(3 * time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.ShouldProcess(tt.actor, tt.action, base.Add(tt.offset)))
		})
	}
}

func TestDebouncer_SuppressedCallDoesNotExtendWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := New(3 * time.Second)

	assert.True(t, d.ShouldProcess("u1", "a", base))
	assert.False(t, d.ShouldProcess("u1", "a", base.Add(2*time.Second)))
	assert.True(t, d.ShouldProcess("u1", "a", base.Add(3500*time.Millisecond)))
}

func TestDebouncer_DefaultWindow(t *testing.T) {
	d := New(0)
	assert.Equal(t, DefaultWindow, d.window)
}

func TestDebouncer_Forget(t *testing.T) {
	now := time.Now()
	d := New(time.Minute)

	assert.True(t, d.ShouldProcess("u1", "a", now))
	d.Forget("u1", "a")
	assert.True(t, d.ShouldProcess("u1", "a", now))
}

func TestDebouncer_ConcurrentDuplicatesProcessOnce(t *testing.T) {
	d := New(time.Minute)
	now := time.Now()

	var processed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.ShouldProcess("u1", "bo-1:hos_approve", now) {
				processed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), processed.Load())
}

func TestDebouncer_PurgesStaleEntries(t *testing.T) {
	base := time.Now()
	d := New(time.Second)

	for i := 0; i < purgeThreshold; i++ {
		d.ShouldProcess(fmt.Sprintf("u%d", i), "a", base)
	}
	assert.Equal(t, purgeThreshold, d.Len())

	d.ShouldProcess("late", "a", base.Add(2*time.Second))
	assert.Equal(t, 1, d.Len())
}
