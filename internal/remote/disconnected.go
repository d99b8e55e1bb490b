package remote

import (
	"context"
	"fmt"

	"github.com/flitsinc/go-planner/internal/event"
	"github.com/flitsinc/go-planner/internal/planner"
)

// Disconnected is the TaskClient used when no remote endpoint is
// configured. Sends fail; the failures surface as tool_result events.
type Disconnected struct{}

func (Disconnected) TaskID() string                   { return "" }
func (Disconnected) Status() event.Status             { return "" }
func (Disconnected) OnUpdate(func(planner.TaskUpdate)) {}

func (Disconnected) Send(context.Context, planner.OutgoingMessage) error {
	return fmt.Errorf("no remote endpoint configured")
}

func (Disconnected) StartNew(context.Context, planner.OutgoingMessage) error {
	return fmt.Errorf("no remote endpoint configured")
}

func (Disconnected) Cancel(context.Context) error { return nil }
