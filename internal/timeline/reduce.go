package timeline

import (
	"log/slog"
	"strings"
	"time"
	"unicode"

	"agentwire/internal/protocol"
)

// cuaReasoningMaxLen caps the display message derived from reasoning text.
const cuaReasoningMaxLen = 60

// Reduce folds one status envelope into the timeline and returns the next
// timeline value. Unknown or empty events reduce to the unchanged input.
// Terminal outcomes and clarifications are handled by the Reconciler, not
// here; Reduce covers the record-merge rules only.
func Reduce(t Timeline, env protocol.Envelope, now time.Time) Timeline {
	switch env.Type {
	case protocol.KindThinking:
		return reduceThinking(t, env, now)
	case protocol.KindPlan:
		return reducePlan(t, env, now)
	case protocol.KindStep:
		return reduceStep(t, env, now)
	case protocol.KindExecuting:
		return reduceExecuting(t, env, now)
	case protocol.KindExecutingStep:
		return reduceExecutingStep(t, env)
	case protocol.KindToolUsage:
		return reduceToolUsage(t, env, now)
	case protocol.KindCUAEvent:
		return reduceCUAEvent(t, env, now)
	case protocol.KindCUAReasoning:
		return reduceCUAReasoning(t, env, now)
	default:
		return t
	}
}

// reduceThinking upserts the single live thinking record: the superseded one
// is discarded and the new one appended at the tail.
func reduceThinking(t Timeline, env protocol.Envelope, now time.Time) Timeline {
	payload, err := protocol.DecodeData[protocol.Thinking](env)
	if err != nil || strings.TrimSpace(payload.Message) == "" {
		slog.Debug("Dropping empty thinking event", "error", err)
		return t
	}

	kept := make([]Record, 0, len(t.Records))
	for _, r := range t.Records {
		if r.Kind != protocol.KindThinking {
			kept = append(kept, r)
		}
	}
	next := t
	next.Records = kept
	return next.append(Record{
		Kind:       protocol.KindThinking,
		Message:    payload.Message,
		ReceivedAt: now,
	})
}

// reducePlan retains the raw plan as a side value and, before any real step
// has arrived, synthesizes a first planning step at index 1 of the declared
// total.
func reducePlan(t Timeline, env protocol.Envelope, now time.Time) Timeline {
	payload, err := protocol.DecodeData[protocol.Plan](env)
	if err != nil || len(payload.Plan) == 0 {
		slog.Debug("Dropping empty plan event", "error", err)
		return t
	}

	next := t
	next.Plan = payload.Plan
	if next.HasSteps() {
		return next
	}
	return next.append(Record{
		Kind:       protocol.KindStep,
		Message:    "Planning",
		StepIndex:  1,
		StepTotal:  len(payload.Plan),
		ReceivedAt: now,
	})
}

// reduceStep upserts by step index: duplicates refine the existing record and
// mark it completed, they never create a second record for the same index.
func reduceStep(t Timeline, env protocol.Envelope, now time.Time) Timeline {
	payload, err := protocol.DecodeData[protocol.Step](env)
	if err != nil || payload.Current <= 0 || payload.Total <= 0 {
		slog.Debug("Dropping invalid step event", "error", err)
		return t
	}

	details := map[string]any{"current": payload.Current, "total": payload.Total}
	if i := t.stepAt(payload.Current); i >= 0 {
		rec := t.Records[i]
		rec.Message = payload.Description
		rec.StepTotal = payload.Total
		rec.Details = details
		rec.Completed = true
		return t.replace(i, rec)
	}
	return t.append(Record{
		Kind:       protocol.KindStep,
		Message:    payload.Description,
		Details:    details,
		StepIndex:  payload.Current,
		StepTotal:  payload.Total,
		ReceivedAt: now,
	})
}

func reduceExecuting(t Timeline, env protocol.Envelope, now time.Time) Timeline {
	payload, err := protocol.DecodeData[protocol.Executing](env)
	if err != nil || strings.TrimSpace(payload.Message) == "" {
		slog.Debug("Dropping empty executing event", "error", err)
		return t
	}
	return t.append(Record{
		Kind:       protocol.KindExecuting,
		Message:    payload.Message,
		ReceivedAt: now,
	})
}

// reduceExecutingStep refreshes the matching step record. The paired step
// envelope is the authoritative source for creating step records, so an
// executing_step for an unseen index is dropped.
func reduceExecutingStep(t Timeline, env protocol.Envelope) Timeline {
	payload, err := protocol.DecodeData[protocol.ExecutingStep](env)
	if err != nil || payload.Step <= 0 {
		slog.Debug("Dropping invalid executing_step event", "error", err)
		return t
	}
	i := t.stepAt(payload.Step)
	if i < 0 {
		return t
	}
	rec := t.Records[i]
	if payload.Description != "" {
		rec.Message = payload.Description
	}
	return t.replace(i, rec)
}

func reduceToolUsage(t Timeline, env protocol.Envelope, now time.Time) Timeline {
	payload, err := protocol.DecodeData[protocol.ToolUsage](env)
	if err != nil {
		slog.Debug("Dropping malformed tool_usage event", "error", err)
		return t
	}

	var message string
	details := map[string]any{"tool": payload.Tool}
	switch payload.Tool {
	case protocol.ToolWebSearch:
		message = "Searching the web"
		if payload.Query != "" {
			details["query"] = payload.Query
		}
	case protocol.ToolComputerUse:
		message = "Using the browser"
		if payload.Task != "" {
			details["task"] = payload.Task
		}
		if payload.StreamURL != "" {
			details["stream_url"] = payload.StreamURL
		}
	default:
		// Unrecognized tools produce no record.
		return t
	}
	return t.append(Record{
		Kind:       protocol.KindToolUsage,
		Message:    message,
		Details:    details,
		ReceivedAt: now,
	})
}

// cuaActionMessages maps the fixed browser-action vocabulary to display text.
var cuaActionMessages = map[string]string{
	protocol.ActionSearching:  "Searching the page",
	protocol.ActionSelecting:  "Selecting an option",
	protocol.ActionScrolling:  "Scrolling the page",
	protocol.ActionCapturing:  "Capturing the screen",
	protocol.ActionCompleted:  "Browser task completed",
	protocol.ActionClicking:   "Clicking",
	protocol.ActionTyping:     "Typing",
	protocol.ActionNavigating: "Navigating",
}

func reduceCUAEvent(t Timeline, env protocol.Envelope, now time.Time) Timeline {
	payload, err := protocol.DecodeData[protocol.CUAEvent](env)
	if err != nil || strings.TrimSpace(payload.Action) == "" {
		slog.Debug("Dropping cua_event without action", "error", err)
		return t
	}

	// browser_started short-circuits the generic formatting path.
	if payload.Action == protocol.ActionBrowserStarted {
		return t.append(Record{
			Kind:       protocol.KindCUAEvent,
			Message:    "Browser session initialized",
			Details:    map[string]any{"action": payload.Action},
			ReceivedAt: now,
		})
	}

	message, ok := cuaActionMessages[payload.Action]
	if !ok {
		message = titleCase(payload.Action)
	}
	details := map[string]any{"action": payload.Action}
	if payload.Text != "" {
		details["text"] = payload.Text
	}
	if payload.URL != "" {
		details["url"] = payload.URL
	}
	return t.append(Record{
		Kind:       protocol.KindCUAEvent,
		Message:    message,
		Details:    details,
		ReceivedAt: now,
	})
}

func reduceCUAReasoning(t Timeline, env protocol.Envelope, now time.Time) Timeline {
	payload, err := protocol.DecodeData[protocol.CUAReasoning](env)
	if err != nil || strings.TrimSpace(payload.Text) == "" {
		slog.Debug("Dropping empty cua_reasoning event", "error", err)
		return t
	}
	return t.append(Record{
		Kind:       protocol.KindCUAReasoning,
		Message:    summarizeReasoning(payload.Text),
		Details:    map[string]any{"text": payload.Text},
		ReceivedAt: now,
	})
}

// summarizeReasoning returns the first sentence or the first 60 characters of
// the text, whichever is shorter.
func summarizeReasoning(text string) string {
	text = strings.TrimSpace(text)
	sentence := text
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			sentence = text[:i+1]
			break
		}
	}
	runes := []rune(text)
	if len(runes) > cuaReasoningMaxLen {
		truncated := string(runes[:cuaReasoningMaxLen])
		if len(truncated) < len(sentence) {
			return truncated
		}
	}
	return sentence
}

// titleCase renders an unrecognized action name ("page_back" -> "Page back").
func titleCase(action string) string {
	action = strings.ReplaceAll(action, "_", " ")
	runes := []rune(action)
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}

// completeAllSteps marks every step record completed. Used when the turn
// reaches its successful terminal outcome.
func completeAllSteps(t Timeline) Timeline {
	next := t
	next.Records = append([]Record(nil), t.Records...)
	for i, r := range next.Records {
		if r.Kind == protocol.KindStep && !r.Completed {
			r.Completed = true
			next.Records[i] = r
		}
	}
	return next
}
