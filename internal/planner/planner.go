// Package planner turns a point-in-time snapshot of pending work and stage
// capacity into proposed time-slot assignments. It is pure compute: it never
// touches storage, and re-running it on an unchanged snapshot produces an
// identical plan.
package planner

import (
	"log/slog"
	"sort"
	"strconv"
	"time"

	"pressline/internal/calendar"
	"pressline/internal/capacity"
	"pressline/internal/chain"
	"pressline/internal/domain"
)

// Snapshot is the planner's sole input: every job's stage states plus
// capacity profiles, captured at one instant and then treated as immutable.
type Snapshot struct {
	Now      time.Time
	Jobs     []JobState
	Profiles map[string]domain.CapacityProfile
	// QueueTails maps stage id to the end of the last committed future slot
	// on that stage, so a partial planning run appends behind existing work.
	QueueTails map[string]time.Time
}

type JobState struct {
	Job    domain.Job
	Stages []domain.WorkflowStage
}

// StageUpdate is one proposed assignment: the stage instance's overall
// scheduled window plus the concrete slots composing it (one per day when the
// work splits across shift boundaries).
type StageUpdate struct {
	WSID    string
	JobID   string
	StageID string
	Start   time.Time
	End     time.Time
	Slots   []SlotPlan
}

type SlotPlan struct {
	Date    string
	Start   time.Time
	End     time.Time
	Minutes int
}

type SkippedJob struct {
	JobID  string
	Reason string
}

type Result struct {
	Updates        []StageUpdate
	JobsConsidered int
	SlotsPlanned   int
	Skipped        []SkippedJob
}

type Planner struct {
	Calendar *calendar.Calendar
	Logger   *slog.Logger
}

func New(cal *calendar.Calendar, logger *slog.Logger) Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return Planner{Calendar: cal, Logger: logger}
}

// candidate is an eligible (job, stage) pair awaiting placement.
type candidate struct {
	job   domain.Job
	stage domain.WorkflowStage
}

// lane is one parallel track within a stage's queue: a running cursor plus
// minutes already consumed per date.
type lane struct {
	cursor time.Time
	used   map[string]int
}

// Plan runs one planning pass over the snapshot. Stages that become eligible
// only because their predecessor was placed in this pass are left for the
// next invocation.
func (p Planner) Plan(snap Snapshot) (Result, error) {
	var res Result

	cands := make([]candidate, 0, len(snap.Jobs))
	for _, js := range snap.Jobs {
		if js.Job.Status != domain.JobOpen {
			continue
		}
		res.JobsConsidered++
		if err := chain.ValidateOrdering(js.Stages); err != nil {
			p.Logger.Warn("skipping job with malformed workflow", "job", js.Job.ID, "error", err)
			res.Skipped = append(res.Skipped, SkippedJob{JobID: js.Job.ID, Reason: err.Error()})
			continue
		}
		next, ok := chain.NextEligible(js.Stages)
		if !ok {
			continue
		}
		cands = append(cands, candidate{job: js.Job, stage: next})
	}
	orderCandidates(cands)

	lanes := map[string][]*lane{}
	for _, c := range cands {
		prof, ok := snap.Profiles[c.stage.StageID]
		if !ok {
			// A zero-value profile would leave the stage with no daily
			// budget and the placement loop nowhere to land work.
			p.Logger.Warn("snapshot has no capacity profile for stage, using defaults", "stage", c.stage.StageID)
			prof = capacity.DefaultProfile(c.stage.StageID)
		}
		if prof.MaxParallelJobs < 1 {
			prof.MaxParallelJobs = 1
		}
		if lanes[c.stage.StageID] == nil {
			seeded, err := p.seedCursor(snap, c.stage.StageID)
			if err != nil {
				return res, err
			}
			ls := make([]*lane, prof.MaxParallelJobs)
			for i := range ls {
				ls[i] = &lane{cursor: seeded, used: map[string]int{}}
			}
			lanes[c.stage.StageID] = ls
		}
		upd, err := p.place(c, prof, earliestLane(lanes[c.stage.StageID]))
		if err != nil {
			return res, err
		}
		if len(upd.Slots) == 0 {
			continue
		}
		res.Updates = append(res.Updates, upd)
		res.SlotsPlanned += len(upd.Slots)
	}
	return res, nil
}

// seedCursor starts a stage's lanes at the next workable instant, or behind
// already-committed queue work when the snapshot reports a later tail.
func (p Planner) seedCursor(snap Snapshot, stageID string) (time.Time, error) {
	seed, err := p.Calendar.NextWorkingInstant(snap.Now)
	if err != nil {
		return time.Time{}, err
	}
	if tail, ok := snap.QueueTails[stageID]; ok && tail.After(seed) {
		return p.Calendar.NextWorkingInstant(tail)
	}
	return seed, nil
}

func earliestLane(ls []*lane) *lane {
	best := ls[0]
	for _, l := range ls[1:] {
		if l.cursor.Before(best.cursor) {
			best = l
		}
	}
	return best
}

// place fits the stage's estimated duration plus setup starting at the lane
// cursor, splitting at shift boundaries and the stage's daily minute budget.
// A single stage instance may span multiple slots and days.
func (p Planner) place(c candidate, prof domain.CapacityProfile, ln *lane) (StageUpdate, error) {
	upd := StageUpdate{WSID: c.stage.ID, JobID: c.job.ID, StageID: c.stage.StageID}
	remaining := c.stage.EstimatedMinutes + prof.SetupMinutes
	if remaining <= 0 {
		return upd, nil
	}

	cursor := ln.cursor
	for remaining > 0 {
		start, end, ok := p.Calendar.ShiftWindow(cursor)
		if !ok || !cursor.Before(end) {
			next, err := p.Calendar.NextShiftStart(cursor)
			if err != nil {
				return upd, err
			}
			cursor = next
			continue
		}
		if cursor.Before(start) {
			cursor = start
		}
		date := cursor.Format("2006-01-02")
		avail := int(end.Sub(cursor) / time.Minute)
		if budget := prof.DailyMinutes - ln.used[date]; budget < avail {
			avail = budget
		}
		if avail <= 0 {
			next, err := p.Calendar.NextShiftStart(end)
			if err != nil {
				return upd, err
			}
			cursor = next
			continue
		}
		minutes := remaining
		if minutes > avail {
			minutes = avail
		}
		slotEnd := cursor.Add(time.Duration(minutes) * time.Minute)
		upd.Slots = append(upd.Slots, SlotPlan{Date: date, Start: cursor, End: slotEnd, Minutes: minutes})
		ln.used[date] += minutes
		remaining -= minutes
		cursor = slotEnd
	}
	if len(upd.Slots) > 0 {
		upd.Start = upd.Slots[0].Start
		upd.End = upd.Slots[len(upd.Slots)-1].End
	}
	ln.cursor = cursor
	return upd, nil
}

// orderCandidates sorts placement order: expedited jobs first (oldest
// expedite wins), then explicit queue positions, then numeric work order.
func orderCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.job.Expedited != b.job.Expedited {
			return a.job.Expedited
		}
		if a.job.Expedited {
			at, bt := expeditedAt(a.job), expeditedAt(b.job)
			if !at.Equal(bt) {
				return at.Before(bt)
			}
			return lessWorkOrder(a.job.WorkOrder, b.job.WorkOrder)
		}
		ap, bp := a.stage.QueuePos, b.stage.QueuePos
		switch {
		case ap != nil && bp != nil:
			if *ap != *bp {
				return *ap < *bp
			}
			return lessWorkOrder(a.job.WorkOrder, b.job.WorkOrder)
		case ap != nil:
			return true
		case bp != nil:
			return false
		}
		return lessWorkOrder(a.job.WorkOrder, b.job.WorkOrder)
	})
}

func expeditedAt(j domain.Job) time.Time {
	if j.ExpeditedAt == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, *j.ExpeditedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// lessWorkOrder orders work-order numbers numerically; non-numeric work
// orders sort after numeric ones, by string.
func lessWorkOrder(a, b string) bool {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		return an < bn
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}
