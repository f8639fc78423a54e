// Package stream implements the tagged Event union of spec.md §9's design
// note and its server-sent-events wire encoding (§6.1). Encode is the only
// serialization site.
package stream

import (
	"encoding/json"

	"github.com/uamm-go/uamm/internal/model"
)

// Kind names an event's wire name (the SSE "event:" field).
type Kind string

const (
	KindReady     Kind = "ready"
	KindToken     Kind = "token"
	KindScore     Kind = "score"
	KindTool      Kind = "tool"
	KindPCN       Kind = "pcn"
	KindGoV       Kind = "gov"
	KindTrace     Kind = "trace"
	KindPlanning  Kind = "planning"
	KindHeartbeat Kind = "heartbeat"
	KindFinal     Kind = "final"
	KindError     Kind = "error"
)

// Event is the exhaustive tagged union; exactly one payload field is
// non-nil, matching the active Kind.
type Event struct {
	Kind      Kind
	RequestID string

	Ready     *ReadyPayload
	Token     *TokenPayload
	Score     *ScorePayload
	Tool      *ToolPayload
	PCN       *PCNPayload
	GoV       *GoVPayload
	Trace     *TracePayload
	Planning  *PlanningPayload
	Heartbeat *HeartbeatPayload
	Final     *model.AgentResult
	Error     *ErrorPayload
}

type ReadyPayload struct {
	RequestID string `json:"request_id"`
}

type TokenPayload struct {
	Text string `json:"text"`
}

type ScorePayload struct {
	S1         float64  `json:"s1"`
	S2         float64  `json:"s2"`
	FinalScore float64  `json:"final_score"`
	CPAccept   *bool    `json:"cp_accept"`
	CPTau      *float64 `json:"cp_tau,omitempty"`
}

// ToolStatus mirrors model.ToolCallStatus for the wire payload.
type ToolStatus string

const (
	ToolStart           ToolStatus = "start"
	ToolStop            ToolStatus = "stop"
	ToolBlocked         ToolStatus = "blocked"
	ToolError           ToolStatus = "error"
	ToolWaitingApproval ToolStatus = "waiting_approval"
)

type ToolPayload struct {
	Name   string         `json:"name"`
	Status ToolStatus     `json:"status"`
	ID     string         `json:"id,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type PCNPayload struct {
	ID         string         `json:"id"`
	Type       model.PCNStatus `json:"type"`
	Value      *float64       `json:"value,omitempty"`
	Policy     model.PCNPolicy `json:"policy"`
	Provenance string         `json:"provenance"`
}

type GoVPayload struct {
	DAGDelta struct {
		OK      bool     `json:"ok"`
		Failing []string `json:"failing"`
	} `json:"dag_delta"`
}

type TracePayload struct {
	Step          int      `json:"step"`
	IsRefinement  bool     `json:"is_refinement"`
	Issues        []string `json:"issues"`
	ToolsUsed     []string `json:"tools_used"`
	PromptPreview string   `json:"prompt_preview,omitempty"`
}

// PlanningPayload is the additive event namespace of DESIGN.md Open
// Question #3: never replaces score/trace, purely informational.
type PlanningPayload struct {
	Mode       string   `json:"mode"`
	Candidates int      `json:"candidates"`
	Selected   int      `json:"selected"`
	Rationale  string   `json:"rationale,omitempty"`
}

type HeartbeatPayload struct {
	T int64 `json:"t"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode renders an Event to its SSE event-name and JSON data payload. This
// is the only place an Event variant is serialized.
func Encode(e Event) (name string, data []byte, err error) {
	var payload any
	switch e.Kind {
	case KindReady:
		payload = e.Ready
	case KindToken:
		payload = e.Token
	case KindScore:
		payload = e.Score
	case KindTool:
		payload = e.Tool
	case KindPCN:
		payload = e.PCN
	case KindGoV:
		payload = e.GoV
	case KindTrace:
		payload = e.Trace
	case KindPlanning:
		payload = e.Planning
	case KindHeartbeat:
		payload = e.Heartbeat
	case KindFinal:
		payload = e.Final
	case KindError:
		payload = e.Error
	}
	data, err = json.Marshal(payload)
	return string(e.Kind), data, err
}
