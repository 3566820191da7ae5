// Package timeline maintains the ordered, de-duplicated status timeline for
// the current processing turn.
package timeline

import (
	"fmt"
	"time"

	"agentwire/internal/protocol"
)

// Phase is the turn state of a session.
type Phase int

const (
	// PhaseIdle means no turn is active.
	PhaseIdle Phase = iota
	// PhaseProcessing means a turn was started by a user send.
	PhaseProcessing
	// PhaseAwaitingClarification means a clarification request is outstanding
	// and the next user submission is its answer.
	PhaseAwaitingClarification
)

func (p Phase) String() string {
	switch p {
	case PhaseProcessing:
		return "processing"
	case PhaseAwaitingClarification:
		return "awaiting_clarification"
	default:
		return "idle"
	}
}

// Record is one status entry on the turn timeline. Records are immutable once
// created except step records, which are refined in place by index.
type Record struct {
	ID         string
	Kind       protocol.EventKind
	Message    string
	Details    map[string]any
	StepIndex  int
	StepTotal  int
	Completed  bool
	ReceivedAt time.Time
}

// Timeline is an immutable value: reducers return a new Timeline rather than
// mutating the previous one.
type Timeline struct {
	Records []Record
	// Plan is the raw declared plan, retained as a side value only.
	Plan []protocol.PlanStep
	// NextSeq feeds record ids.
	NextSeq int
}

// Progress returns the step progress fraction, computed from the maximum step
// index seen so a late, smaller index never regresses progress.
func (t Timeline) Progress() float64 {
	maxCurrent, total := 0, 0
	for _, r := range t.Records {
		if r.StepIndex > maxCurrent {
			maxCurrent = r.StepIndex
		}
		if r.StepTotal > total {
			total = r.StepTotal
		}
	}
	if total == 0 {
		return 0
	}
	if maxCurrent >= total {
		return 1
	}
	return float64(maxCurrent) / float64(total)
}

// HasSteps reports whether any step record exists.
func (t Timeline) HasSteps() bool {
	for _, r := range t.Records {
		if r.StepIndex > 0 {
			return true
		}
	}
	return false
}

// stepAt returns the position of the step record with the given index, or -1.
func (t Timeline) stepAt(index int) int {
	for i, r := range t.Records {
		if r.Kind == protocol.KindStep && r.StepIndex == index {
			return i
		}
	}
	return -1
}

// append returns a new timeline with rec added and an id assigned.
func (t Timeline) append(rec Record) Timeline {
	next := t
	next.NextSeq++
	rec.ID = fmt.Sprintf("ev-%d", next.NextSeq)
	next.Records = append(append([]Record(nil), t.Records...), rec)
	return next
}

// replace returns a new timeline with the record at position i swapped out.
func (t Timeline) replace(i int, rec Record) Timeline {
	next := t
	next.Records = append([]Record(nil), t.Records...)
	next.Records[i] = rec
	return next
}
