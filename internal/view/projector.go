// Package view derives the renderable conversation view from reconciler
// state. Projection is a pure function; nothing here mutates independently.
package view

import (
	"agentwire/internal/protocol"
	"agentwire/internal/timeline"
)

// View is everything a renderer needs for one frame.
type View struct {
	// Messages is the main conversation flow, with unanswered clarification
	// prompts filtered out.
	Messages []timeline.Message
	// PendingPrompt is the unanswered clarification prompt, rendered after
	// the live timeline instead of inside the main flow.
	PendingPrompt *timeline.Message
	// ShowTimeline reports whether the status block should render.
	ShowTimeline bool
	// Records is the ordered status timeline for the current turn.
	Records []timeline.Record
	// Progress is the step progress fraction in [0, 1].
	Progress float64
	// ShowViewport reports whether the browser viewport should render.
	ShowViewport bool
	// ViewportURL is the live browser feed address.
	ViewportURL string
	// AcceptingInput reports whether the composer should be enabled.
	AcceptingInput bool
}

// Project recomputes the full view from a reconciler snapshot.
func Project(snap timeline.Snapshot) View {
	v := View{
		Records:        snap.Timeline.Records,
		Progress:       snap.Timeline.Progress(),
		ViewportURL:    snap.ViewportURL,
		AcceptingInput: snap.Phase != timeline.PhaseProcessing,
	}

	for i := range snap.Messages {
		m := snap.Messages[i]
		if m.RequiresResponse {
			prompt := m
			v.PendingPrompt = &prompt
			continue
		}
		v.Messages = append(v.Messages, m)
	}

	active := snap.Phase == timeline.PhaseProcessing || snap.Phase == timeline.PhaseAwaitingClarification
	v.ShowTimeline = active && len(snap.Timeline.Records) > 0

	// The viewport never appears before any real activity: it needs at least
	// one non-thinking status record.
	if snap.ViewportURL != "" {
		for _, r := range snap.Timeline.Records {
			if r.Kind != protocol.KindThinking {
				v.ShowViewport = true
				break
			}
		}
	}
	return v
}
