package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentwire/internal/protocol"
)

// Sink receives envelopes produced by a runner, in order.
type Sink func(ctx context.Context, env protocol.Envelope) error

// Request carries one user turn into a runner.
type Request struct {
	SessionID string
	Message   string
	// Answers delivers clarification responses from the client. A runner
	// that asks a question blocks on it until an answer arrives or the
	// context is canceled.
	Answers <-chan string
}

// Runner executes one conversational turn, streaming progress envelopes
// through the sink until the turn ends with complete, clarification or error.
type Runner interface {
	Run(ctx context.Context, req Request, emit Sink) error
}

// ScriptedRunner plays a fixed browser-automation scenario for each turn.
// It exists so the server can be exercised end to end without a live agent
// backend attached.
type ScriptedRunner struct {
	// StepDelay is the pause between emitted events. Zero means no pause,
	// which tests rely on.
	StepDelay time.Duration

	// NeedsClarification, when set, is consulted before the run starts.
	// Returning a non-empty question makes the runner ask it and wait for
	// the answer before proceeding.
	NeedsClarification func(message string) string
}

var _ Runner = (*ScriptedRunner)(nil)

// Run streams a thinking → plan → step/browser-activity → complete sequence.
func (r *ScriptedRunner) Run(ctx context.Context, req Request, emit Sink) error {
	task := req.Message

	if r.NeedsClarification != nil {
		if question := r.NeedsClarification(task); question != "" {
			answer, err := r.ask(ctx, req, emit, question)
			if err != nil {
				return err
			}
			task = task + " (" + answer + ")"
		}
	}

	if err := r.send(ctx, emit, protocol.KindThinking, protocol.Thinking{
		Message: "Analyzing the request",
	}); err != nil {
		return err
	}

	plan := []protocol.PlanStep{
		{Description: "Open the browser"},
		{Description: "Carry out the task: " + task},
		{Description: "Summarize the findings"},
	}
	if err := r.send(ctx, emit, protocol.KindPlan, protocol.Plan{Plan: plan}); err != nil {
		return err
	}

	if err := r.send(ctx, emit, protocol.KindCUAEvent, protocol.CUAEvent{
		Action:    protocol.ActionBrowserStarted,
		StreamURL: "http://localhost:8006/vnc.html",
	}); err != nil {
		return err
	}

	total := len(plan)
	for i, step := range plan {
		if err := r.send(ctx, emit, protocol.KindStep, protocol.Step{
			Current:     i + 1,
			Total:       total,
			Description: step.Description,
		}); err != nil {
			return err
		}
		if err := r.browse(ctx, emit, i); err != nil {
			return err
		}
	}

	if err := r.send(ctx, emit, protocol.KindCUAReasoning, protocol.CUAReasoning{
		Text: "The page contains the requested information. Extracting the relevant details for the summary.",
	}); err != nil {
		return err
	}

	return r.send(ctx, emit, protocol.KindComplete, protocol.Complete{
		Message: fmt.Sprintf("Finished: %s", task),
	})
}

// browse emits the browser activity belonging to one plan step.
func (r *ScriptedRunner) browse(ctx context.Context, emit Sink, step int) error {
	switch step {
	case 0:
		return r.send(ctx, emit, protocol.KindCUAEvent, protocol.CUAEvent{
			Action: protocol.ActionNavigating,
			URL:    "https://www.google.com",
		})
	case 1:
		if err := r.send(ctx, emit, protocol.KindToolUsage, protocol.ToolUsage{
			Tool: protocol.ToolComputerUse,
		}); err != nil {
			return err
		}
		for _, action := range []string{
			protocol.ActionSearching,
			protocol.ActionClicking,
			protocol.ActionScrolling,
		} {
			if err := r.send(ctx, emit, protocol.KindCUAEvent, protocol.CUAEvent{Action: action}); err != nil {
				return err
			}
		}
		return nil
	default:
		return r.send(ctx, emit, protocol.KindCUAEvent, protocol.CUAEvent{
			Action: protocol.ActionCapturing,
		})
	}
}

// ask emits a clarification question and blocks until the answer arrives.
func (r *ScriptedRunner) ask(ctx context.Context, req Request, emit Sink, question string) (string, error) {
	id := fmt.Sprintf("clr-%d", time.Now().UnixNano())
	if err := r.send(ctx, emit, protocol.KindCUAClarification, protocol.CUAClarification{
		ID:       id,
		Question: question,
	}); err != nil {
		return "", err
	}
	select {
	case answer := <-req.Answers:
		return strings.TrimSpace(answer), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *ScriptedRunner) send(ctx context.Context, emit Sink, kind protocol.EventKind, payload any) error {
	if r.StepDelay > 0 {
		select {
		case <-time.After(r.StepDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		return fmt.Errorf("build %s envelope: %w", kind, err)
	}
	return emit(ctx, env)
}
