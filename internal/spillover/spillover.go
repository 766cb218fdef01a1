// Package spillover recomputes slot state after a shift ends with unfinished
// work: incomplete slots are resized and relocated to the next shift start,
// and every later slot in the same stage queue is pushed by the stage's
// cumulative delay, preserving FIFO order. Like the planner it is pure
// compute over a copy of slot state; the commit boundary applies the result.
package spillover

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"pressline/internal/calendar"
	"pressline/internal/domain"
)

// MinRemainingMinutes floors the relocated remainder so released-but-trivial
// work is not silently dropped.
const MinRemainingMinutes = 30

type Input struct {
	Now   time.Time
	Slots []domain.TimeSlot
}

// SlotMove pushes an already-queued future slot later in time without
// resequencing it.
type SlotMove struct {
	SlotID   string
	NewDate  string
	NewStart time.Time
	NewEnd   time.Time
}

// SlotInsert is a relocated remainder for a spilled slot.
type SlotInsert struct {
	StageID string
	JobID   string
	WSID    string
	Date    string
	Start   time.Time
	End     time.Time
	Minutes int
}

type Result struct {
	Deletes     []string
	Inserts     []SlotInsert
	Moves       []SlotMove
	Impacts     []domain.SpilloverImpact
	StageDelays map[string]int
	Log         []string
}

type Engine struct {
	Calendar *calendar.Calendar
	Logger   *slog.Logger
}

func New(cal *calendar.Calendar, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{Calendar: cal, Logger: logger}
}

type parsedSlot struct {
	domain.TimeSlot
	start time.Time
	end   time.Time
}

// Run detects incomplete past slots and computes the relocation and cascade.
func (e Engine) Run(in Input) (Result, error) {
	res := Result{StageDelays: map[string]int{}}
	loc := e.Calendar.Location()
	today := in.Now.In(loc).Format("2006-01-02")

	var spilled, future []parsedSlot
	for _, s := range in.Slots {
		ps, err := parseSlot(s, loc)
		if err != nil {
			e.Logger.Warn("ignoring slot with unparseable times", "slot", s.ID, "error", err)
			continue
		}
		switch {
		case !s.Completed && s.Date < today && ps.end.Before(in.Now):
			spilled = append(spilled, ps)
		case !ps.start.Before(in.Now):
			future = append(future, ps)
		}
	}
	if len(spilled) == 0 {
		return res, nil
	}
	sort.Slice(spilled, func(i, j int) bool { return spilled[i].start.Before(spilled[j].start) })

	restart, err := e.Calendar.NextShiftStart(in.Now)
	if err != nil {
		return res, err
	}

	// Resize and relocate each spilled slot; remainders stack in original
	// order from the next shift start.
	cursor := restart
	for _, s := range spilled {
		consumed := int(in.Now.Sub(s.start) / time.Minute)
		if consumed < 0 {
			consumed = 0
		}
		remaining := s.Minutes - consumed
		if remaining < MinRemainingMinutes {
			remaining = MinRemainingMinutes
		}
		newEnd := cursor.Add(time.Duration(remaining) * time.Minute)
		res.Deletes = append(res.Deletes, s.ID)
		res.Inserts = append(res.Inserts, SlotInsert{
			StageID: s.StageID,
			JobID:   s.JobID,
			WSID:    s.WSID,
			Date:    cursor.Format("2006-01-02"),
			Start:   cursor,
			End:     newEnd,
			Minutes: remaining,
		})
		res.StageDelays[s.StageID] += s.Minutes
		res.Impacts = append(res.Impacts, domain.SpilloverImpact{
			JobID:         s.JobID,
			WSID:          s.WSID,
			StageID:       s.StageID,
			OriginalStart: s.start.Format(time.RFC3339),
			NewStart:      cursor.Format(time.RFC3339),
			OriginalMins:  s.Minutes,
			RemainingMins: remaining,
		})
		res.Log = append(res.Log, fmt.Sprintf("slot %s (job %s, stage %s): %d min incomplete, relocated %d min to %s",
			s.ID, s.JobID, s.StageID, s.Minutes, remaining, cursor.Format(time.RFC3339)))
		cursor = newEnd
	}

	// Cascade: push every future slot on an affected stage by that stage's
	// cumulative delay. Nothing is resequenced, only shifted.
	for _, s := range future {
		delay, ok := res.StageDelays[s.StageID]
		if !ok {
			continue
		}
		d := time.Duration(delay) * time.Minute
		ns, ne := s.start.Add(d), s.end.Add(d)
		res.Moves = append(res.Moves, SlotMove{
			SlotID:   s.ID,
			NewDate:  ns.In(loc).Format("2006-01-02"),
			NewStart: ns,
			NewEnd:   ne,
		})
		res.Log = append(res.Log, fmt.Sprintf("slot %s (stage %s) pushed %d min", s.ID, s.StageID, delay))
	}
	for i := range res.Impacts {
		res.Impacts[i].CascadeMinutes = res.StageDelays[res.Impacts[i].StageID]
	}
	return res, nil
}

func parseSlot(s domain.TimeSlot, loc *time.Location) (parsedSlot, error) {
	start, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return parsedSlot{}, fmt.Errorf("slot_start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, s.End)
	if err != nil {
		return parsedSlot{}, fmt.Errorf("slot_end: %w", err)
	}
	return parsedSlot{TimeSlot: s, start: start.In(loc), end: end.In(loc)}, nil
}
