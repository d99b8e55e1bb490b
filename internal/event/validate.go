package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEvent is wrapped by every ValidationError.
var ErrInvalidEvent = errors.New("invalid event")

// ValidationError names the exact invariant a malformed event violated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidEvent }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var legalAuthors = map[Channel][]Author{
	ChannelUserPlanner:  {AuthorUser, AuthorPlanner},
	ChannelPlannerAgent: {AuthorPlanner, AuthorAgent},
	ChannelSystem:       {AuthorSystem},
	ChannelTool:         {AuthorPlanner, AuthorSystem},
	ChannelStatus:       {AuthorSystem},
}

var knownStates = map[Status]struct{}{
	StatusSubmitted:     {},
	StatusWorking:       {},
	StatusInputRequired: {},
	StatusCompleted:     {},
	StatusCanceled:      {},
	StatusFailed:        {},
	StatusRejected:      {},
}

// Assert checks every invariant of the event model and returns a
// ValidationError naming the first violation. It must run before an event
// enters the log; there is no append-then-fix path.
func Assert(evt Event) error {
	if evt.Seq <= 0 {
		return invalid("seq", "must be a positive integer, got %d", evt.Seq)
	}
	if strings.TrimSpace(evt.Timestamp) == "" {
		return invalid("timestamp", "is required")
	}
	if _, err := time.Parse(time.RFC3339Nano, evt.Timestamp); err != nil {
		return invalid("timestamp", "must be ISO-8601: %v", err)
	}
	if _, ok := legalAuthors[evt.Channel]; !ok {
		return invalid("channel", "unknown channel %q", evt.Channel)
	}
	if !authorAllowed(evt.Channel, evt.Author) {
		return invalid("author", "author %q is not legal on channel %q", evt.Author, evt.Channel)
	}

	switch evt.Type {
	case TypeMessage:
		return assertMessage(evt)
	case TypeToolCall:
		if evt.Channel != ChannelTool {
			return invalid("channel", "tool_call events belong on the tool channel, got %q", evt.Channel)
		}
		if strings.TrimSpace(evt.Payload.Name) == "" {
			return invalid("payload.name", "tool_call requires a tool name")
		}
	case TypeToolResult:
		if evt.Channel != ChannelTool {
			return invalid("channel", "tool_result events belong on the tool channel, got %q", evt.Channel)
		}
	case TypeReadAttachment:
		if evt.Channel != ChannelTool {
			return invalid("channel", "read_attachment events belong on the tool channel, got %q", evt.Channel)
		}
		if strings.TrimSpace(evt.Payload.Name) == "" {
			return invalid("payload.name", "read_attachment requires an attachment name")
		}
	case TypeStatus:
		if evt.Channel != ChannelStatus {
			return invalid("channel", "status events belong on the status channel, got %q", evt.Channel)
		}
		if _, ok := knownStates[evt.Payload.State]; !ok {
			return invalid("payload.state", "unknown lifecycle state %q", evt.Payload.State)
		}
	case TypeTrace:
		if evt.Channel != ChannelSystem {
			return invalid("channel", "trace events belong on the system channel, got %q", evt.Channel)
		}
		if strings.TrimSpace(evt.Payload.Text) == "" {
			return invalid("payload.text", "trace requires non-empty text")
		}
	default:
		return invalid("type", "unknown event type %q", evt.Type)
	}
	return nil
}

func assertMessage(evt Event) error {
	if evt.Channel != ChannelUserPlanner && evt.Channel != ChannelPlannerAgent {
		return invalid("channel", "message events belong on user-planner or planner-agent, got %q", evt.Channel)
	}
	if strings.TrimSpace(evt.Payload.Text) == "" {
		return invalid("payload.text", "message requires non-empty text")
	}
	for i, att := range evt.Payload.Attachments {
		if strings.TrimSpace(att.Name) == "" {
			return invalid(fmt.Sprintf("payload.attachments[%d].name", i), "attachment name is required")
		}
		if strings.TrimSpace(att.MimeType) == "" {
			return invalid(fmt.Sprintf("payload.attachments[%d].mimeType", i), "attachment mimeType is required")
		}
	}
	switch evt.Payload.Finality {
	case "", FinalityNone, FinalityTurn, FinalityConversation:
	default:
		return invalid("payload.finality", "unknown finality %q", evt.Payload.Finality)
	}
	return nil
}

func authorAllowed(channel Channel, author Author) bool {
	for _, a := range legalAuthors[channel] {
		if a == author {
			return true
		}
	}
	return false
}
