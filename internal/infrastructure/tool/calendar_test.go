package tool

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCalendarScheduleRejectsConflictingSlot(t *testing.T) {
	cal := NewSimpleCalendar(nil)
	ctx := context.Background()
	at := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)

	if err := cal.Schedule(ctx, at, "sync", "Alice"); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	if err := cal.Schedule(ctx, at.Add(30*time.Minute), "overlap", "Bob"); err == nil {
		t.Error("overlapping slot accepted")
	}
	if err := cal.Schedule(ctx, at.Add(2*time.Hour), "later", "Bob"); err != nil {
		t.Errorf("free slot rejected: %v", err)
	}
}

func TestCalendarScheduleConcurrentSameSlot(t *testing.T) {
	cal := NewSimpleCalendar(nil)
	ctx := context.Background()
	at := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = cal.Schedule(ctx, at, "sync", "Alice")
		}(i)
	}
	wg.Wait()

	booked := 0
	for _, err := range errs {
		if err == nil {
			booked++
		}
	}
	if booked != 1 {
		t.Errorf("booked = %d, want exactly 1 for the same slot", booked)
	}

	upcoming, err := cal.Upcoming(ctx, 10)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(upcoming) != 1 {
		t.Errorf("meetings = %d, want 1", len(upcoming))
	}
}
