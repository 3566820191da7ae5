package timeline

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"agentwire/internal/dispatch"
	"agentwire/internal/protocol"
)

// DefaultClearGrace is how long a completed timeline stays visible before it
// is cleared.
const DefaultClearGrace = 2 * time.Second

// keepOpenPhrase in a completion message preserves the browser viewport even
// without the keep_browser_open flag.
const keepOpenPhrase = "keep the browser open"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the append-only conversation list.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
	// RequiresResponse marks an unanswered clarification prompt. It is
	// cleared, not removed, once answered, preserving conversation order.
	RequiresResponse bool
	// IsClarification marks a user message that answered a clarification.
	IsClarification bool
}

// ClarificationRequest is the single outstanding mid-turn question. At most
// one exists per session at a time.
type ClarificationRequest struct {
	ID       string
	Question string
}

// Snapshot is a consistent copy of the reconciler state, safe to read after
// the reconciler has moved on.
type Snapshot struct {
	Phase       Phase
	Timeline    Timeline
	Messages    []Message
	Pending     *ClarificationRequest
	ViewportURL string
}

// Options configures a Reconciler.
type Options struct {
	// ClearGrace overrides DefaultClearGrace.
	ClearGrace time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
	// OnChange is invoked with a fresh snapshot after every state change.
	OnChange func(Snapshot)
}

// Reconciler consumes dispatched envelopes and maintains the authoritative
// turn state: phase, timeline, conversation messages, the outstanding
// clarification, and the browser viewport reference. All mutation happens
// inside its own handlers, invoked synchronously off the dispatcher.
type Reconciler struct {
	clearGrace time.Duration
	now        func() time.Time
	onChange   func(Snapshot)

	mu          sync.Mutex
	phase       Phase
	tl          Timeline
	messages    []Message
	pending     *ClarificationRequest
	viewportURL string
	graceTimer  *time.Timer
	clearGen    int
}

// NewReconciler creates an idle reconciler.
func NewReconciler(opts Options) *Reconciler {
	if opts.ClearGrace <= 0 {
		opts.ClearGrace = DefaultClearGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		clearGrace: opts.ClearGrace,
		now:        opts.Now,
		onChange:   opts.OnChange,
	}
}

// Bind subscribes the reconciler to every status kind on the dispatcher.
func (r *Reconciler) Bind(d *dispatch.Dispatcher) []*dispatch.Subscription {
	kinds := []protocol.EventKind{
		protocol.KindThinking, protocol.KindPlan, protocol.KindStep,
		protocol.KindExecuting, protocol.KindExecutingStep,
		protocol.KindToolUsage, protocol.KindCUAEvent, protocol.KindCUAReasoning,
		protocol.KindCUAClarification, protocol.KindClarification,
		protocol.KindComplete, protocol.KindError,
	}
	subs := make([]*dispatch.Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, d.Subscribe(k, r.Apply))
	}
	return subs
}

// Snapshot returns a copy of the current state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:       r.phase,
		Timeline:    r.tl,
		Messages:    append([]Message(nil), r.messages...),
		ViewportURL: r.viewportURL,
	}
	snap.Timeline.Records = append([]Record(nil), r.tl.Records...)
	if r.pending != nil {
		p := *r.pending
		snap.Pending = &p
	}
	return snap
}

// BeginTurn starts a new processing turn from a plain user send: the prior
// timeline is cleared, a pending grace clear or clarification wait is
// superseded, and a synthetic processing record seeds the new timeline.
func (r *Reconciler) BeginTurn(text string) {
	r.mu.Lock()
	r.cancelClearLocked()
	r.pending = nil
	r.messages = append(r.messages, Message{
		Role:      RoleUser,
		Content:   text,
		Timestamp: r.now(),
	})
	r.tl = Timeline{}.append(Record{
		Kind:       protocol.KindThinking,
		Message:    "Processing started",
		ReceivedAt: r.now(),
	})
	r.phase = PhaseProcessing
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
}

// PendingClarification returns the outstanding clarification request, if any.
func (r *Reconciler) PendingClarification() (ClarificationRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return ClarificationRequest{}, false
	}
	return *r.pending, true
}

// ResolveClarification records the user's answer to the outstanding request:
// the matching prompt's RequiresResponse flag is cleared and the turn resumes
// processing. The timeline is left intact.
func (r *Reconciler) ResolveClarification(answer string) {
	r.mu.Lock()
	if r.pending == nil {
		r.mu.Unlock()
		return
	}
	r.pending = nil
	r.clearPromptFlagLocked()
	r.messages = append(r.messages, Message{
		Role:            RoleUser,
		Content:         answer,
		Timestamp:       r.now(),
		IsClarification: true,
	})
	r.phase = PhaseProcessing
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
}

// FailTurn surfaces a local failure (for example a send that could not be
// delivered) as a visible error record and re-enables input by returning to
// idle. A failed send must never leave a silently stuck processing state.
func (r *Reconciler) FailTurn(reason string) {
	r.mu.Lock()
	r.tl = r.tl.append(Record{
		Kind:       protocol.KindError,
		Message:    "Error: " + reason,
		ReceivedAt: r.now(),
	})
	r.pending = nil
	r.clearPromptFlagLocked()
	r.phase = PhaseIdle
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
}

// Apply folds one dispatched envelope into the state machine.
func (r *Reconciler) Apply(env protocol.Envelope) {
	r.mu.Lock()
	changed := r.applyLocked(env)
	var snap Snapshot
	if changed {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()
	if changed {
		r.notify(snap)
	}
}

func (r *Reconciler) applyLocked(env protocol.Envelope) bool {
	switch env.Type {
	case protocol.KindCUAClarification:
		return r.applyCUAClarificationLocked(env)
	case protocol.KindClarification:
		return r.applyClarificationLocked(env)
	case protocol.KindComplete:
		return r.applyCompleteLocked(env)
	case protocol.KindError:
		return r.applyErrorLocked(env)
	}

	if r.phase == PhaseIdle {
		// Stray status events outside a turn have nothing to attach to.
		slog.Debug("Ignoring status event outside a turn", "kind", env.Type)
		return false
	}
	r.updateViewportLocked(env)
	r.tl = Reduce(r.tl, env, r.now())
	return true
}

// updateViewportLocked tracks the shared browser viewport reference carried
// by computer_use tool events and browser_started actions.
func (r *Reconciler) updateViewportLocked(env protocol.Envelope) {
	switch env.Type {
	case protocol.KindToolUsage:
		payload, err := protocol.DecodeData[protocol.ToolUsage](env)
		if err == nil && payload.Tool == protocol.ToolComputerUse && payload.StreamURL != "" {
			r.viewportURL = payload.StreamURL
		}
	case protocol.KindCUAEvent:
		payload, err := protocol.DecodeData[protocol.CUAEvent](env)
		if err == nil && payload.Action == protocol.ActionBrowserStarted && payload.StreamURL != "" {
			r.viewportURL = payload.StreamURL
		}
	}
}

func (r *Reconciler) applyCUAClarificationLocked(env protocol.Envelope) bool {
	payload, err := protocol.DecodeData[protocol.CUAClarification](env)
	if err != nil || strings.TrimSpace(payload.Question) == "" {
		slog.Warn("Dropping cua_clarification without question", "error", err)
		return false
	}
	if r.pending != nil {
		slog.Warn("Dropping cua_clarification while one is outstanding",
			"outstanding_id", r.pending.ID, "new_id", payload.ID)
		return false
	}
	// The timeline and viewport stay intact: a clarification pauses the turn,
	// it does not reset it.
	r.pending = &ClarificationRequest{ID: payload.ID, Question: payload.Question}
	r.messages = append(r.messages, Message{
		Role:             RoleAssistant,
		Content:          payload.Question,
		Timestamp:        r.now(),
		RequiresResponse: true,
	})
	r.phase = PhaseAwaitingClarification
	return true
}

// applyClarificationLocked handles the plain, non-correlated variant: a
// terminal turn outcome asking for a better prompt.
func (r *Reconciler) applyClarificationLocked(env protocol.Envelope) bool {
	payload, err := protocol.DecodeData[protocol.Clarification](env)
	if err != nil {
		slog.Warn("Dropping malformed clarification event", "error", err)
		return false
	}
	content := payload.Message
	if content == "" {
		var lines []string
		for i, q := range payload.Questions {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, q))
		}
		content = strings.Join(lines, "\n")
	}
	if content == "" {
		slog.Warn("Dropping clarification without message or questions")
		return false
	}
	r.messages = append(r.messages, Message{
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: r.now(),
	})
	r.tl = Timeline{}
	r.pending = nil
	r.phase = PhaseIdle
	return true
}

func (r *Reconciler) applyCompleteLocked(env protocol.Envelope) bool {
	payload, err := protocol.DecodeData[protocol.Complete](env)
	if err != nil {
		slog.Warn("Dropping malformed complete event", "error", err)
		return false
	}
	r.tl = completeAllSteps(r.tl)
	if payload.Message != "" {
		r.messages = append(r.messages, Message{
			Role:      RoleAssistant,
			Content:   payload.Message,
			Timestamp: r.now(),
		})
	}
	keepOpen := payload.KeepBrowserOpen ||
		strings.Contains(strings.ToLower(payload.Message), keepOpenPhrase)
	if !keepOpen {
		r.viewportURL = ""
	}
	r.pending = nil
	r.phase = PhaseIdle
	// The completed timeline stays visible for the grace period, then clears
	// unless a new turn superseded it.
	r.scheduleClearLocked()
	return true
}

func (r *Reconciler) applyErrorLocked(env protocol.Envelope) bool {
	payload, err := protocol.DecodeData[protocol.ErrorData](env)
	if err != nil || strings.TrimSpace(payload.Message) == "" {
		slog.Warn("Dropping error event without message", "error", err)
		return false
	}
	if r.phase == PhaseIdle {
		return false
	}
	r.tl = r.tl.append(Record{
		Kind:       protocol.KindError,
		Message:    "Error: " + payload.Message,
		ReceivedAt: r.now(),
	})
	r.pending = nil
	r.clearPromptFlagLocked()
	r.phase = PhaseIdle
	// No grace timer here: the error record stays visible until the next
	// user send clears the timeline.
	return true
}

// clearPromptFlagLocked clears RequiresResponse on the most recent prompt.
func (r *Reconciler) clearPromptFlagLocked() {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].RequiresResponse {
			r.messages[i].RequiresResponse = false
			return
		}
	}
}

func (r *Reconciler) scheduleClearLocked() {
	r.clearGen++
	gen := r.clearGen
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	r.graceTimer = time.AfterFunc(r.clearGrace, func() {
		r.mu.Lock()
		if r.clearGen != gen || r.phase != PhaseIdle {
			r.mu.Unlock()
			return
		}
		r.tl = Timeline{}
		snap := r.snapshotLocked()
		r.mu.Unlock()
		r.notify(snap)
	})
}

// cancelClearLocked supersedes a pending grace clear. A new user send must
// win against the timer, never race it.
func (r *Reconciler) cancelClearLocked() {
	r.clearGen++
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
}

func (r *Reconciler) notify(snap Snapshot) {
	if r.onChange != nil {
		r.onChange(snap)
	}
}
