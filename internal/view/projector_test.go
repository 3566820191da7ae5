package view

import (
	"testing"
	"time"

	"agentwire/internal/protocol"
	"agentwire/internal/timeline"
)

func record(kind protocol.EventKind) timeline.Record {
	return timeline.Record{Kind: kind, Message: "m", ReceivedAt: time.Now()}
}

func TestPendingPromptLeavesMainFlow(t *testing.T) {
	snap := timeline.Snapshot{
		Phase: timeline.PhaseAwaitingClarification,
		Messages: []timeline.Message{
			{Role: timeline.RoleUser, Content: "book a flight"},
			{Role: timeline.RoleAssistant, Content: "Which city?", RequiresResponse: true},
		},
		Timeline: timeline.Timeline{Records: []timeline.Record{record(protocol.KindStep)}},
	}

	v := Project(snap)
	if len(v.Messages) != 1 {
		t.Fatalf("Expected 1 main-flow message, got %d", len(v.Messages))
	}
	if v.PendingPrompt == nil || v.PendingPrompt.Content != "Which city?" {
		t.Fatalf("Expected pending prompt, got %+v", v.PendingPrompt)
	}
}

func TestAnsweredPromptRejoinsMainFlow(t *testing.T) {
	snap := timeline.Snapshot{
		Phase: timeline.PhaseProcessing,
		Messages: []timeline.Message{
			{Role: timeline.RoleUser, Content: "book a flight"},
			{Role: timeline.RoleAssistant, Content: "Which city?"},
			{Role: timeline.RoleUser, Content: "Paris", IsClarification: true},
		},
	}

	v := Project(snap)
	if len(v.Messages) != 3 {
		t.Errorf("Expected 3 messages in order, got %d", len(v.Messages))
	}
	if v.PendingPrompt != nil {
		t.Error("Answered prompt must not be pending")
	}
}

func TestShowTimelineConditions(t *testing.T) {
	rec := record(protocol.KindStep)

	tests := []struct {
		name    string
		phase   timeline.Phase
		records []timeline.Record
		want    bool
	}{
		{"processing with records", timeline.PhaseProcessing, []timeline.Record{rec}, true},
		{"awaiting with records", timeline.PhaseAwaitingClarification, []timeline.Record{rec}, true},
		{"processing empty", timeline.PhaseProcessing, nil, false},
		{"idle with records", timeline.PhaseIdle, []timeline.Record{rec}, false},
	}
	for _, tc := range tests {
		snap := timeline.Snapshot{Phase: tc.phase, Timeline: timeline.Timeline{Records: tc.records}}
		if got := Project(snap).ShowTimeline; got != tc.want {
			t.Errorf("%s: expected ShowTimeline=%v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestViewportNeedsRealActivity(t *testing.T) {
	snap := timeline.Snapshot{
		Phase:       timeline.PhaseProcessing,
		ViewportURL: "http://stream.local/view",
		Timeline:    timeline.Timeline{Records: []timeline.Record{record(protocol.KindThinking)}},
	}
	if Project(snap).ShowViewport {
		t.Error("Viewport must not appear with only thinking records")
	}

	snap.Timeline.Records = append(snap.Timeline.Records, record(protocol.KindCUAEvent))
	if !Project(snap).ShowViewport {
		t.Error("Viewport should appear once a non-thinking record exists")
	}

	snap.ViewportURL = ""
	if Project(snap).ShowViewport {
		t.Error("Viewport must not appear without a viewport reference")
	}
}

func TestAcceptingInput(t *testing.T) {
	if Project(timeline.Snapshot{Phase: timeline.PhaseProcessing}).AcceptingInput {
		t.Error("Input should be disabled while processing")
	}
	if !Project(timeline.Snapshot{Phase: timeline.PhaseIdle}).AcceptingInput {
		t.Error("Input should be enabled while idle")
	}
	if !Project(timeline.Snapshot{Phase: timeline.PhaseAwaitingClarification}).AcceptingInput {
		t.Error("Input should be enabled while awaiting a clarification answer")
	}
}

func TestProgressPassthrough(t *testing.T) {
	tl := timeline.Timeline{Records: []timeline.Record{
		{Kind: protocol.KindStep, StepIndex: 2, StepTotal: 4},
	}}
	v := Project(timeline.Snapshot{Phase: timeline.PhaseProcessing, Timeline: tl})
	if v.Progress != 0.5 {
		t.Errorf("Expected progress 0.5, got %f", v.Progress)
	}
}
