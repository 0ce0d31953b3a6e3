package relay

import (
	"encoding/json"
	"fmt"
)

// Reference is one cited knowledge topic attached to an answer.
type Reference struct {
	TopicId   string  `json:"topicId"`
	Topic     string  `json:"topic"`
	Relevance float64 `json:"relevance"` // [0,1]
}

// Envelope is one message of the streamed answer protocol. It is a closed
// union: every consumer switches over the concrete types below, so adding a
// variant surfaces every call site at compile time.
type Envelope interface {
	EnvelopeType() string
}

const (
	TypeContent    = "content"
	TypeReferences = "references"
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypeError      = "error"
	TypeDone       = "done"
)

type ContentEnvelope struct {
	Text string `json:"text"`
}

type ReferencesEnvelope struct {
	References []Reference `json:"references"`
}

type ToolCallEnvelope struct {
	Id   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type ToolResultEnvelope struct {
	Id     string          `json:"id"`
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ErrorEnvelope is a business failure deliberately emitted by the upstream.
// Transport-level failures never appear as envelopes.
type ErrorEnvelope struct {
	Message string `json:"message"`
}

// DoneEnvelope terminates every stream. SessionId is set only when a
// session row was actually persisted.
type DoneEnvelope struct {
	SessionId  string `json:"sessionId,omitempty"`
	IsFailed   bool   `json:"isFailed"`
	FailReason string `json:"failReason,omitempty"`
}

func (ContentEnvelope) EnvelopeType() string    { return TypeContent }
func (ReferencesEnvelope) EnvelopeType() string { return TypeReferences }
func (ToolCallEnvelope) EnvelopeType() string   { return TypeToolCall }
func (ToolResultEnvelope) EnvelopeType() string { return TypeToolResult }
func (ErrorEnvelope) EnvelopeType() string      { return TypeError }
func (DoneEnvelope) EnvelopeType() string       { return TypeDone }

// wireEnvelope is the flat JSON shape used on both the upstream and the
// client transport: one object, discriminated by "type".
type wireEnvelope struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	References []Reference     `json:"references,omitempty"`
	Id         string          `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Message    string          `json:"message,omitempty"`
	SessionId  string          `json:"sessionId,omitempty"`
	IsFailed   *bool           `json:"isFailed,omitempty"`
	FailReason string          `json:"failReason,omitempty"`
}

// MarshalEnvelope serializes an envelope to its wire JSON.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	w := wireEnvelope{Type: env.EnvelopeType()}

	switch e := env.(type) {
	case ContentEnvelope:
		w.Text = e.Text
	case ReferencesEnvelope:
		w.References = e.References
	case ToolCallEnvelope:
		w.Id = e.Id
		w.Name = e.Name
		w.Args = e.Args
	case ToolResultEnvelope:
		w.Id = e.Id
		w.Name = e.Name
		w.Result = e.Result
	case ErrorEnvelope:
		w.Message = e.Message
	case DoneEnvelope:
		w.SessionId = e.SessionId
		w.IsFailed = &e.IsFailed
		w.FailReason = e.FailReason
	default:
		return nil, fmt.Errorf("unknown envelope type %T", env)
	}

	return json.Marshal(w)
}

// UnmarshalEnvelope parses one wire JSON object into its concrete variant.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch w.Type {
	case TypeContent:
		return ContentEnvelope{Text: w.Text}, nil
	case TypeReferences:
		return ReferencesEnvelope{References: w.References}, nil
	case TypeToolCall:
		return ToolCallEnvelope{Id: w.Id, Name: w.Name, Args: w.Args}, nil
	case TypeToolResult:
		return ToolResultEnvelope{Id: w.Id, Name: w.Name, Result: w.Result}, nil
	case TypeError:
		return ErrorEnvelope{Message: w.Message}, nil
	case TypeDone:
		done := DoneEnvelope{SessionId: w.SessionId, FailReason: w.FailReason}
		if w.IsFailed != nil {
			done.IsFailed = *w.IsFailed
		}
		return done, nil
	default:
		return nil, fmt.Errorf("unknown envelope type %q", w.Type)
	}
}
