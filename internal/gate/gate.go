// Package gate holds the status/terminal rules consulted by both the
// prompt builder (which tools to offer) and the dispatcher (whether a
// remote send may proceed).
package gate

import "github.com/flitsinc/go-planner/internal/event"

// TerminalState tracks a pending conversation-ending obligation created by
// a scenario tool marked endsConversation. It is mutated only by the
// dispatcher and cleared when a conversation-finality remote send
// completes.
type TerminalState struct {
	Pending     bool     `json:"pending"`
	Status      string   `json:"status"` // success | failure | neutral
	Attachments []string `json:"attachments,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// LatestStatus returns the state of the most recent status event, or ""
// when no status event has been observed yet.
func LatestStatus(events []event.Event) event.Status {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == event.TypeStatus {
			return events[i].Payload.State
		}
	}
	return ""
}

// RemoteSendAllowed reports whether a sendMessageToRemoteAgent may proceed:
// only before any status has been observed or while the remote side is
// waiting for our input.
func RemoteSendAllowed(latest event.Status) bool {
	return latest == "" || latest == event.StatusInputRequired
}

// WrapUpOnly reports whether the remote conversation has reached a terminal
// status, after which exactly one user-facing wrap-up tool remains on the
// menu and remote sends are blocked.
func WrapUpOnly(latest event.Status) bool {
	return latest.Terminal()
}

// ApplyTerminal rewrites an outgoing remote message under a pending
// terminal obligation: finality is forced to conversation and, when the
// caller supplied no attachments, the terminal attachment list is used.
func ApplyTerminal(term TerminalState, finality event.Finality, attachments []string) (event.Finality, []string) {
	if !term.Pending {
		if finality == "" {
			finality = event.FinalityNone
		}
		return finality, attachments
	}
	if len(attachments) == 0 {
		attachments = append([]string{}, term.Attachments...)
	}
	return event.FinalityConversation, attachments
}
