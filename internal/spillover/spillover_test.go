package spillover_test

import (
	"testing"
	"time"

	"pressline/internal/calendar"
	"pressline/internal/config"
	"pressline/internal/domain"
	"pressline/internal/spillover"
)

// 2026-01-05 is a Monday; default calendar works Mon-Fri 08:00-17:30 UTC.
func at(day, hour, min int) time.Time {
	return time.Date(2026, 1, day, hour, min, 0, 0, time.UTC)
}

func newEngine(t *testing.T) spillover.Engine {
	t.Helper()
	cal, err := calendar.New(config.Default("plant-1"))
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	return spillover.New(cal, nil)
}

func slot(id, stageID string, date string, start, end time.Time, minutes int, completed bool) domain.TimeSlot {
	return domain.TimeSlot{
		ID:        id,
		StageID:   stageID,
		JobID:     "job-" + id,
		WSID:      "ws-" + id,
		Date:      date,
		Start:     start.Format(time.RFC3339),
		End:       end.Format(time.RFC3339),
		Minutes:   minutes,
		Completed: completed,
	}
}

func TestNoSpilloverNoWork(t *testing.T) {
	e := newEngine(t)
	res, err := e.Run(spillover.Input{
		Now: at(6, 0, 30),
		Slots: []domain.TimeSlot{
			slot("done", "press", "2026-01-05", at(5, 14, 0), at(5, 16, 0), 120, true),
			slot("future", "press", "2026-01-06", at(6, 9, 0), at(6, 11, 0), 120, false),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Deletes)+len(res.Inserts)+len(res.Moves) != 0 {
		t.Fatalf("completed and future slots must not trigger spillover: %+v", res)
	}
}

func TestRelocationConservesRemainder(t *testing.T) {
	e := newEngine(t)
	// Nightly pass at 00:10 Tuesday; the slot started 70 minutes earlier.
	now := at(6, 0, 10)
	res, err := e.Run(spillover.Input{
		Now: now,
		Slots: []domain.TimeSlot{
			slot("s1", "press", "2026-01-05", at(5, 23, 0), at(5, 23, 55), 120, false),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Deletes) != 1 || res.Deletes[0] != "s1" {
		t.Fatalf("original slot must be deleted, got %+v", res.Deletes)
	}
	if len(res.Inserts) != 1 {
		t.Fatalf("expected one relocated slot, got %d", len(res.Inserts))
	}
	ins := res.Inserts[0]
	// 70 minutes consumed of 120: remainder 50, above the 30-minute floor.
	if ins.Minutes != 50 {
		t.Fatalf("remaining minutes: got %d, want 50", ins.Minutes)
	}
	// Relocated to Tuesday's shift start.
	if !ins.Start.Equal(at(6, 8, 0)) {
		t.Fatalf("relocation start: got %v, want Tue 08:00", ins.Start)
	}
	if !ins.End.Equal(at(6, 8, 50)) {
		t.Fatalf("relocation end: got %v", ins.End)
	}
	// The cascade delay is the slot's full original duration.
	if res.StageDelays["press"] != 120 {
		t.Fatalf("stage delay: got %d, want 120", res.StageDelays["press"])
	}
	if len(res.Impacts) != 1 || res.Impacts[0].CascadeMinutes != 120 || res.Impacts[0].RemainingMins != 50 {
		t.Fatalf("impact record: %+v", res.Impacts)
	}
}

func TestRemainderFloor(t *testing.T) {
	e := newEngine(t)
	// The whole slot elapsed long before the pass runs; the remainder
	// bottoms out at the 30-minute floor.
	res, err := e.Run(spillover.Input{
		Now: at(6, 0, 30),
		Slots: []domain.TimeSlot{
			slot("s1", "press", "2026-01-05", at(5, 14, 0), at(5, 16, 0), 120, false),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserts[0].Minutes != spillover.MinRemainingMinutes {
		t.Fatalf("remainder: got %d, want floor %d", res.Inserts[0].Minutes, spillover.MinRemainingMinutes)
	}
}

func TestCascadePushesFutureSlotsOnAffectedStage(t *testing.T) {
	e := newEngine(t)
	now := at(6, 0, 30)
	res, err := e.Run(spillover.Input{
		Now: now,
		Slots: []domain.TimeSlot{
			slot("spilled", "press", "2026-01-05", at(5, 14, 0), at(5, 16, 0), 120, false),
			slot("queued", "press", "2026-01-07", at(7, 8, 0), at(7, 10, 0), 120, false),
			slot("other", "finishing", "2026-01-07", at(7, 8, 0), at(7, 10, 0), 120, false),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Moves) != 1 {
		t.Fatalf("expected exactly one move, got %+v", res.Moves)
	}
	mv := res.Moves[0]
	if mv.SlotID != "queued" {
		t.Fatalf("moved wrong slot: %s", mv.SlotID)
	}
	// Pushed by the full original 120 minutes, duration preserved.
	if !mv.NewStart.Equal(at(7, 10, 0)) || !mv.NewEnd.Equal(at(7, 12, 0)) {
		t.Fatalf("move window: %v - %v", mv.NewStart, mv.NewEnd)
	}
	if mv.NewDate != "2026-01-07" {
		t.Fatalf("move date: %s", mv.NewDate)
	}
}

func TestMultipleSpilledSlotsStackInOrder(t *testing.T) {
	e := newEngine(t)
	res, err := e.Run(spillover.Input{
		Now: at(6, 0, 30),
		Slots: []domain.TimeSlot{
			slot("second", "press", "2026-01-05", at(5, 15, 0), at(5, 16, 0), 60, false),
			slot("first", "press", "2026-01-05", at(5, 13, 0), at(5, 14, 0), 60, false),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Inserts) != 2 {
		t.Fatalf("expected 2 relocated slots, got %d", len(res.Inserts))
	}
	// Remainders keep original order and never overlap.
	if res.Inserts[0].WSID != "ws-first" {
		t.Fatalf("relocation order broken: %+v", res.Inserts)
	}
	if res.Inserts[1].Start.Before(res.Inserts[0].End) {
		t.Fatalf("relocated slots overlap: %+v", res.Inserts)
	}
	// Cumulative delay is the sum of original durations.
	if res.StageDelays["press"] != 120 {
		t.Fatalf("stage delay: got %d, want 120", res.StageDelays["press"])
	}
}

func TestUnparseableSlotIgnored(t *testing.T) {
	e := newEngine(t)
	bad := domain.TimeSlot{ID: "bad", StageID: "press", Date: "2026-01-05", Start: "not-a-time", End: "also-bad", Minutes: 60}
	res, err := e.Run(spillover.Input{Now: at(6, 0, 30), Slots: []domain.TimeSlot{bad}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Deletes) != 0 {
		t.Fatalf("unparseable slot must be skipped, got %+v", res)
	}
}
