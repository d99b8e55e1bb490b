// Package event defines the unified conversation event model shared by the
// planner, the event log and the prompt builder. Every fact the engine acts
// on is one of these events; nothing else is authoritative.
package event

import "time"

type Type string

const (
	TypeMessage        Type = "message"
	TypeToolCall       Type = "tool_call"
	TypeToolResult     Type = "tool_result"
	TypeReadAttachment Type = "read_attachment"
	TypeStatus         Type = "status"
	TypeTrace          Type = "trace"
)

type Channel string

const (
	ChannelUserPlanner  Channel = "user-planner"
	ChannelPlannerAgent Channel = "planner-agent"
	ChannelSystem       Channel = "system"
	ChannelTool         Channel = "tool"
	ChannelStatus       Channel = "status"
)

type Author string

const (
	AuthorUser    Author = "user"
	AuthorPlanner Author = "planner"
	AuthorAgent   Author = "agent"
	AuthorSystem  Author = "system"
)

type Finality string

const (
	FinalityNone         Finality = "none"
	FinalityTurn         Finality = "turn"
	FinalityConversation Finality = "conversation"
)

// Status is the remote task lifecycle state carried by status events.
type Status string

const (
	StatusSubmitted     Status = "submitted"
	StatusWorking       Status = "working"
	StatusInputRequired Status = "input-required"
	StatusCompleted     Status = "completed"
	StatusCanceled      Status = "canceled"
	StatusFailed        Status = "failed"
	StatusRejected      Status = "rejected"
)

// Terminal reports whether the remote conversation can no longer accept
// messages once this status has been observed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusFailed, StatusRejected:
		return true
	default:
		return false
	}
}

// Attachment references a named file carried by a message. Content holds
// base64 bytes for attachments received from the remote agent so that
// replaying the log can rebuild the vault without network calls.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content,omitempty"`
}

// Payload is the type-specific record of an event. Fields outside the
// owning type are left zero and omitted from JSON.
type Payload struct {
	// message
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Finality    Finality     `json:"finality,omitempty"`

	// tool_call / tool_result / read_attachment
	Name   string         `json:"name,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Result any            `json:"result,omitempty"`
	OK     *bool          `json:"ok,omitempty"`
	Error  string         `json:"error,omitempty"`

	// read_attachment
	Size    int    `json:"size,omitempty"`
	Excerpt string `json:"text_excerpt,omitempty"`

	// status
	State Status `json:"state,omitempty"`
}

// Event is a single immutable entry in the conversation log.
type Event struct {
	Seq       int64   `json:"seq"`
	Timestamp string  `json:"timestamp"`
	Type      Type    `json:"type"`
	Channel   Channel `json:"channel"`
	Author    Author  `json:"author"`
	Payload   Payload `json:"payload"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Draft is an event before the log assigns its sequence number and
// timestamp.
type Draft struct {
	Type      Type
	Channel   Channel
	Author    Author
	Payload   Payload
	Reasoning string
}

// Make assigns seq and timestamp to a draft and validates the result.
// The returned event has not been appended anywhere yet.
func Make(seq int64, at time.Time, d Draft) (Event, error) {
	evt := Event{
		Seq:       seq,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Type:      d.Type,
		Channel:   d.Channel,
		Author:    d.Author,
		Payload:   d.Payload,
		Reasoning: d.Reasoning,
	}
	if err := Assert(evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// Bool returns a pointer for the OK payload field.
func Bool(v bool) *bool { return &v }
