package testutil

import (
	"testing"
	"time"
)

func TestFakeClock_Now(t *testing.T) {
	fixed := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(fixed)

	got := clock.Now()
	if !got.Equal(fixed) {
		t.Errorf("Now() = %v, want %v", got, fixed)
	}
}

func TestFakeClock_Advance(t *testing.T) {
	fixed := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(fixed)

	clock.Advance(5 * time.Minute)

	want := fixed.Add(5 * time.Minute)
	got := clock.Now()
	if !got.Equal(want) {
		t.Errorf("after Advance(5m), Now() = %v, want %v", got, want)
	}
}

func TestTestContext_HasDeadline(t *testing.T) {
	ctx := TestContext(t)

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("TestContext should have a deadline")
	}

	remaining := time.Until(deadline)
	if remaining <= 0 || remaining > 6*time.Second {
		t.Errorf("deadline should be ~5s from now, got %v", remaining)
	}
}

func TestMustParseUUID_Valid(t *testing.T) {
	id := MustParseUUID("12345678-1234-1234-1234-123456789abc")
	if id.String() != "12345678-1234-1234-1234-123456789abc" {
		t.Errorf("unexpected UUID: %s", id)
	}
}

func TestMustParseUUID_Invalid(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustParseUUID should panic on invalid UUID")
		}
	}()
	MustParseUUID("not-a-uuid")
}

func TestFakeClock_AfterFuncFiresInOrder(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	var order []int
	var seen []time.Time
	clock.AfterFunc(20*time.Second, func() { order = append(order, 2); seen = append(seen, clock.Now()) })
	clock.AfterFunc(10*time.Second, func() { order = append(order, 1); seen = append(seen, clock.Now()) })
	clock.AfterFunc(time.Minute, func() { order = append(order, 3) })

	clock.Advance(30 * time.Second)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("fire order = %v, want [1 2]", order)
	}
	if !seen[0].Equal(start.Add(10*time.Second)) || !seen[1].Equal(start.Add(20*time.Second)) {
		t.Errorf("Now() during callbacks = %v", seen)
	}
	if !clock.Now().Equal(start.Add(30 * time.Second)) {
		t.Errorf("Now() after advance = %v", clock.Now())
	}
	if clock.PendingTimers() != 1 {
		t.Errorf("PendingTimers() = %d, want 1", clock.PendingTimers())
	}
}

func TestFakeClock_CallbackCanRearm(t *testing.T) {
	clock := NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	count := 0
	var tick func()
	tick = func() {
		count++
		clock.AfterFunc(10*time.Second, tick)
	}
	clock.AfterFunc(10*time.Second, tick)

	clock.Advance(25 * time.Second)

	if count != 2 {
		t.Errorf("re-armed timer fired %d times in 25s, want 2", count)
	}
}

func TestFakeClock_Stop(t *testing.T) {
	clock := NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop() = false on pending timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}

	clock.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}
