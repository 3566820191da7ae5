package timeline

import (
	"strings"
	"testing"
	"time"

	"agentwire/internal/protocol"
)

func mustEnvelope(t *testing.T, kind protocol.EventKind, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		t.Fatalf("NewEnvelope(%s) failed: %v", kind, err)
	}
	return env
}

func countKind(t Timeline, kind protocol.EventKind) int {
	n := 0
	for _, r := range t.Records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

func TestThinkingSupersedes(t *testing.T) {
	now := time.Now()
	var tl Timeline
	tl = Reduce(tl, mustEnvelope(t, protocol.KindThinking, protocol.Thinking{Message: "Processing..."}), now)
	tl = Reduce(tl, mustEnvelope(t, protocol.KindThinking, protocol.Thinking{Message: "Creating plan..."}), now)

	if got := countKind(tl, protocol.KindThinking); got != 1 {
		t.Fatalf("Expected exactly 1 thinking record, got %d", got)
	}
	last := tl.Records[len(tl.Records)-1]
	if last.Message != "Creating plan..." {
		t.Errorf("Expected latest thinking message, got %q", last.Message)
	}
}

func TestThinkingEmptyDropped(t *testing.T) {
	var tl Timeline
	tl = Reduce(tl, mustEnvelope(t, protocol.KindThinking, protocol.Thinking{Message: "  "}), time.Now())
	if len(tl.Records) != 0 {
		t.Errorf("Empty thinking must not produce a record, got %d", len(tl.Records))
	}
}

func TestStepUpsertByIndex(t *testing.T) {
	now := time.Now()
	var tl Timeline
	tl = Reduce(tl, mustEnvelope(t, protocol.KindStep, protocol.Step{Current: 1, Total: 3, Description: "Planning"}), now)
	tl = Reduce(tl, mustEnvelope(t, protocol.KindStep, protocol.Step{Current: 2, Total: 3, Description: "Searching"}), now)
	tl = Reduce(tl, mustEnvelope(t, protocol.KindStep, protocol.Step{Current: 1, Total: 3, Description: "Planning done"}), now)

	if got := countKind(tl, protocol.KindStep); got != 2 {
		t.Fatalf("Expected 2 step records, got %d", got)
	}
	i := tl.stepAt(1)
	if i < 0 {
		t.Fatal("Step 1 record missing")
	}
	if tl.Records[i].Message != "Planning done" {
		t.Errorf("Expected refined message, got %q", tl.Records[i].Message)
	}
	if !tl.Records[i].Completed {
		t.Error("Duplicate step index should mark the record completed")
	}
}

func TestProgressMonotonicOutOfOrder(t *testing.T) {
	now := time.Now()
	var tl Timeline
	var last float64
	for _, current := range []int{2, 3, 1, 2} {
		tl = Reduce(tl, mustEnvelope(t, protocol.KindStep, protocol.Step{Current: current, Total: 4, Description: "step"}), now)
		p := tl.Progress()
		if p < last {
			t.Fatalf("Progress regressed from %f to %f after step %d", last, p, current)
		}
		last = p
	}
	if last != 0.75 {
		t.Errorf("Expected final progress 0.75, got %f", last)
	}
}

func TestProgressEmptyTimeline(t *testing.T) {
	var tl Timeline
	if p := tl.Progress(); p != 0 {
		t.Errorf("Expected 0 progress, got %f", p)
	}
}

func TestPlanSynthesizesFirstStep(t *testing.T) {
	var tl Timeline
	plan := protocol.Plan{Plan: []protocol.PlanStep{{Description: "a"}, {Description: "b"}, {Description: "c"}}}
	tl = Reduce(tl, mustEnvelope(t, protocol.KindPlan, plan), time.Now())

	if len(tl.Plan) != 3 {
		t.Errorf("Expected raw plan retained, got %d entries", len(tl.Plan))
	}
	if got := countKind(tl, protocol.KindStep); got != 1 {
		t.Fatalf("Expected 1 synthesized step record, got %d", got)
	}
	rec := tl.Records[tl.stepAt(1)]
	if rec.StepIndex != 1 || rec.StepTotal != 3 {
		t.Errorf("Expected step 1 of 3, got %d of %d", rec.StepIndex, rec.StepTotal)
	}
}

func TestPlanDoesNotOverrideRealSteps(t *testing.T) {
	now := time.Now()
	var tl Timeline
	tl = Reduce(tl, mustEnvelope(t, protocol.KindStep, protocol.Step{Current: 2, Total: 5, Description: "real"}), now)
	tl = Reduce(tl, mustEnvelope(t, protocol.KindPlan, protocol.Plan{Plan: []protocol.PlanStep{{Description: "a"}}}), now)

	if got := countKind(tl, protocol.KindStep); got != 1 {
		t.Errorf("Plan after real steps must not synthesize, got %d step records", got)
	}
}

func TestExecutingStepRefinesExisting(t *testing.T) {
	now := time.Now()
	var tl Timeline
	tl = Reduce(tl, mustEnvelope(t, protocol.KindStep, protocol.Step{Current: 1, Total: 2, Description: "Searching"}), now)
	tl = Reduce(tl, mustEnvelope(t, protocol.KindExecutingStep, protocol.ExecutingStep{Step: 1, Description: "Searching flights"}), now)

	if tl.Records[tl.stepAt(1)].Message != "Searching flights" {
		t.Errorf("Expected refined step message, got %q", tl.Records[tl.stepAt(1)].Message)
	}

	before := len(tl.Records)
	tl = Reduce(tl, mustEnvelope(t, protocol.KindExecutingStep, protocol.ExecutingStep{Step: 9, Description: "ghost"}), now)
	if len(tl.Records) != before {
		t.Error("executing_step for an unseen index must be dropped")
	}
}

func TestToolUsageBranches(t *testing.T) {
	now := time.Now()
	var tl Timeline
	tl = Reduce(tl, mustEnvelope(t, protocol.KindToolUsage, protocol.ToolUsage{Tool: protocol.ToolWebSearch, Query: "weather"}), now)
	tl = Reduce(tl, mustEnvelope(t, protocol.KindToolUsage, protocol.ToolUsage{Tool: protocol.ToolComputerUse, Task: "open site"}), now)
	tl = Reduce(tl, mustEnvelope(t, protocol.KindToolUsage, protocol.ToolUsage{Tool: "quantum_solver"}), now)

	if got := countKind(tl, protocol.KindToolUsage); got != 2 {
		t.Fatalf("Unrecognized tools must produce no record; got %d records", got)
	}
	if tl.Records[0].Details["query"] != "weather" {
		t.Errorf("Expected query detail, got %v", tl.Records[0].Details)
	}
}

func TestCUAEventVocabulary(t *testing.T) {
	now := time.Now()
	tests := []struct {
		action string
		want   string
	}{
		{protocol.ActionSearching, "Searching the page"},
		{protocol.ActionScrolling, "Scrolling the page"},
		{protocol.ActionCompleted, "Browser task completed"},
		{protocol.ActionTyping, "Typing"},
		{"page_back", "Page back"},
	}
	for _, tc := range tests {
		var tl Timeline
		tl = Reduce(tl, mustEnvelope(t, protocol.KindCUAEvent, protocol.CUAEvent{Action: tc.action}), now)
		if len(tl.Records) != 1 {
			t.Fatalf("Action %q: expected 1 record, got %d", tc.action, len(tl.Records))
		}
		if tl.Records[0].Message != tc.want {
			t.Errorf("Action %q: expected %q, got %q", tc.action, tc.want, tl.Records[0].Message)
		}
	}
}

func TestCUAEventBrowserStarted(t *testing.T) {
	var tl Timeline
	tl = Reduce(tl, mustEnvelope(t, protocol.KindCUAEvent, protocol.CUAEvent{Action: protocol.ActionBrowserStarted}), time.Now())
	if len(tl.Records) != 1 || tl.Records[0].Message != "Browser session initialized" {
		t.Errorf("Expected browser session initialized record, got %+v", tl.Records)
	}
}

func TestCUAEventEmptyActionDropped(t *testing.T) {
	var tl Timeline
	tl = Reduce(tl, mustEnvelope(t, protocol.KindCUAEvent, protocol.CUAEvent{Action: ""}), time.Now())
	if len(tl.Records) != 0 {
		t.Errorf("Empty action must be dropped, got %d records", len(tl.Records))
	}
}

func TestCUAReasoningSummary(t *testing.T) {
	now := time.Now()

	var tl Timeline
	tl = Reduce(tl, mustEnvelope(t, protocol.KindCUAReasoning, protocol.CUAReasoning{Text: "Short thought. And more detail follows here."}), now)
	if tl.Records[0].Message != "Short thought." {
		t.Errorf("Expected first sentence, got %q", tl.Records[0].Message)
	}

	long := strings.Repeat("a", 100) + ". tail"
	tl = Reduce(Timeline{}, mustEnvelope(t, protocol.KindCUAReasoning, protocol.CUAReasoning{Text: long}), now)
	if got := tl.Records[0].Message; len(got) != 60 {
		t.Errorf("Expected 60-char truncation, got %d chars", len(got))
	}
	if tl.Records[0].Details["text"] != long {
		t.Error("Full reasoning text must be retained in details")
	}
}

func TestUnknownKindUnchanged(t *testing.T) {
	tl := Timeline{}.append(Record{Kind: protocol.KindThinking, Message: "x"})
	next := Reduce(tl, protocol.Envelope{Type: "mystery"}, time.Now())
	if len(next.Records) != len(tl.Records) {
		t.Error("Unknown kinds must leave the timeline unchanged")
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	now := time.Now()
	var tl Timeline
	tl = Reduce(tl, mustEnvelope(t, protocol.KindStep, protocol.Step{Current: 1, Total: 2, Description: "before"}), now)

	snapshot := tl.Records[0].Message
	_ = Reduce(tl, mustEnvelope(t, protocol.KindStep, protocol.Step{Current: 1, Total: 2, Description: "after"}), now)

	if tl.Records[0].Message != snapshot {
		t.Error("Reduce must not mutate the previous timeline value")
	}
}
