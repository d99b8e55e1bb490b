// Package planner runs the tick loop: decide whether to act, build the
// LLM context, parse the chosen action and dispatch it. All collaborators
// that touch the outside world enter through the interfaces in this file.
package planner

import (
	"context"

	"github.com/flitsinc/go-planner/internal/event"
	"github.com/flitsinc/go-planner/internal/scenario"
	"github.com/flitsinc/go-planner/internal/vault"
)

// TaskUpdate is a push notification from the remote task transport: either
// an incoming agent message or a lifecycle status change.
type TaskUpdate struct {
	Kind        string // "message" | "status"
	Text        string
	Attachments []event.Attachment
	State       event.Status
}

// OutgoingMessage is a planner-authored message bound for the remote agent.
type OutgoingMessage struct {
	Text        string
	Finality    event.Finality
	Attachments []vault.File
}

// TaskClient is the wire transport to the remote counterpart. The planner
// never inspects transport internals; it converts updates into events and
// hands outbound messages over.
type TaskClient interface {
	TaskID() string
	Status() event.Status
	OnUpdate(fn func(TaskUpdate))
	Send(ctx context.Context, msg OutgoingMessage) error
	StartNew(ctx context.Context, msg OutgoingMessage) error
	Cancel(ctx context.Context) error
}

// LLMProvider produces one completion for one prompt. The planner owns the
// retry policy, so Complete must be safe to call again after an error.
type LLMProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OracleRequest carries everything the synthesis oracle needs to invent a
// plausible result for a scenario-defined tool.
type OracleRequest struct {
	Tool     scenario.Tool
	Args     map[string]any
	Agent    scenario.Agent
	Scenario scenario.Config
	History  string
}

// Oracle executes scenario-defined tools. The returned value is recorded
// verbatim as the tool_result payload.
type Oracle interface {
	Execute(ctx context.Context, req OracleRequest) (any, error)
}
