package timers

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var epoch = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func TestManualFiresInDueOrder(t *testing.T) {
	clock := NewManual(epoch)
	var order []string
	clock.AfterFunc(300*time.Millisecond, func() { order = append(order, "late") })
	clock.AfterFunc(100*time.Millisecond, func() {
		order = append(order, "early")
		clock.AfterFunc(50*time.Millisecond, func() { order = append(order, "chained") })
	})

	clock.Advance(99 * time.Millisecond)
	require.Empty(t, order)

	clock.Advance(time.Second)
	require.Equal(t, []string{"early", "chained", "late"}, order)
	require.Equal(t, epoch.Add(1099*time.Millisecond), clock.Now())
	require.Zero(t, clock.Pending())
}

func TestManualStop(t *testing.T) {
	clock := NewManual(epoch)
	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })
	require.True(t, timer.Stop())
	require.False(t, timer.Stop())
	clock.Advance(2 * time.Second)
	require.False(t, fired)
}

func TestDebouncerCollapsesRapidCalls(t *testing.T) {
	clock := NewManual(epoch)
	debouncer := NewDebouncer(clock, time.Second)
	var last int
	calls := 0
	for i := 1; i <= 5; i++ {
		value := i
		debouncer.Debounce(func() {
			calls++
			last = value
		})
		clock.Advance(200 * time.Millisecond)
	}
	require.Equal(t, 0, calls)
	require.True(t, debouncer.Pending())

	clock.Advance(time.Second)
	require.Equal(t, 1, calls)
	require.Equal(t, 5, last)
	require.False(t, debouncer.Pending())
}

func TestDebouncerCancel(t *testing.T) {
	clock := NewManual(epoch)
	debouncer := NewDebouncer(clock, time.Second)
	fired := false
	debouncer.Debounce(func() { fired = true })
	require.True(t, debouncer.Cancel())
	require.False(t, debouncer.Cancel())
	clock.Advance(time.Hour)
	require.False(t, fired)
}

func TestSystemSchedulerFires(t *testing.T) {
	defer goleak.VerifyNone(t)
	var fired atomic.Bool
	done := make(chan struct{})
	System().AfterFunc(time.Millisecond, func() {
		fired.Store(true)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("system timer did not fire")
	}
	require.True(t, fired.Load())
}
