package protocol

// SessionInfo is the first inbound frame on a new connection and carries the
// canonical session id.
type SessionInfo struct {
	SessionID string `json:"session_id"`
}

// Thinking is a transient progress line. Only the most recent one is live at
// any time.
type Thinking struct {
	Message string `json:"message"`
}

// PlanStep is one declared step of the agent's plan.
type PlanStep struct {
	Description string `json:"description"`
}

// Plan carries the full declared plan. It is retained as a side value, not
// rendered directly.
type Plan struct {
	Plan []PlanStep `json:"plan"`
}

// Step reports progress on one plan step, 1-based.
type Step struct {
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Description string `json:"description"`
}

// Tool names recognized in ToolUsage envelopes.
const (
	ToolWebSearch   = "web_search"
	ToolComputerUse = "computer_use"
)

// ToolUsage reports that the agent invoked a tool.
type ToolUsage struct {
	Tool      string `json:"tool"`
	Query     string `json:"query,omitempty"`
	Task      string `json:"task,omitempty"`
	StreamURL string `json:"stream_url,omitempty"`
}

// Browser-automation action vocabulary for CUAEvent envelopes.
const (
	ActionBrowserStarted = "browser_started"
	ActionSearching      = "searching"
	ActionSelecting      = "selecting"
	ActionScrolling      = "scrolling"
	ActionCapturing      = "capturing"
	ActionCompleted      = "completed"
	ActionClicking       = "clicking"
	ActionTyping         = "typing"
	ActionNavigating     = "navigating"
)

// CUAEvent is a single browser-automation action.
type CUAEvent struct {
	Action    string `json:"action"`
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
	Direction string `json:"direction,omitempty"`
	StreamURL string `json:"stream_url,omitempty"`
}

// CUAReasoning carries the browser agent's free-form reasoning text.
type CUAReasoning struct {
	Text string `json:"text"`
}

// CUAClarification pauses the turn until the user answers the correlated
// question.
type CUAClarification struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

// Clarification is the terminal, non-correlated clarification outcome: the
// planner gave up and asked for a better prompt.
type Clarification struct {
	Message   string   `json:"message,omitempty"`
	Questions []string `json:"questions,omitempty"`
}

// Executing announces that plan execution has begun.
type Executing struct {
	Message string `json:"message"`
}

// ExecutingStep refines an already-announced step.
type ExecutingStep struct {
	Step        int    `json:"step"`
	Description string `json:"description"`
}

// Complete is the successful terminal outcome of a turn.
type Complete struct {
	Message         string `json:"message"`
	KeepBrowserOpen bool   `json:"keep_browser_open,omitempty"`
}

// ErrorData is the failed terminal outcome of a turn.
type ErrorData struct {
	Message string `json:"message"`
}

// ClarificationResponse is the outbound answer to a CUAClarification,
// correlated by id.
type ClarificationResponse struct {
	Response string `json:"response"`
	ID       string `json:"id"`
}

// Ping and Pong carry a client timestamp for the heartbeat round trip.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Pong echoes the Ping timestamp.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}
