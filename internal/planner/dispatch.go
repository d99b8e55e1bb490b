package planner

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/flitsinc/go-planner/internal/event"
	"github.com/flitsinc/go-planner/internal/eventlog"
	"github.com/flitsinc/go-planner/internal/gate"
	"github.com/flitsinc/go-planner/internal/prompt"
	"github.com/flitsinc/go-planner/internal/scenario"
)

// handler executes one tool. The returned bool requests an immediate
// retick after the current tick completes.
type handler func(ctx context.Context, act Action) (bool, error)

// coreHandlers is the closed set of built-in tools. Scenario-defined tools
// are resolved against the agent configuration instead.
func (p *Planner) coreHandlers() map[string]handler {
	return map[string]handler{
		prompt.ToolSleep:        func(context.Context, Action) (bool, error) { return false, nil },
		prompt.ToolSendToUser:   p.dispatchSendToUser,
		prompt.ToolAskUser:      p.dispatchSendToUser,
		prompt.ToolReadAttach:   p.dispatchReadAttachment,
		prompt.ToolDone:         p.dispatchDone,
		prompt.ToolSendToRemote: p.dispatchSendToRemote,
	}
}

// dispatch routes a parsed action to its handler. Unrecognized tool names
// are treated as a no-op tick rather than an error.
func (p *Planner) dispatch(ctx context.Context, act Action) (bool, error) {
	if h, ok := p.handlers[act.Tool]; ok {
		return h(ctx, act)
	}
	if tool, ok := p.agent.ToolByName(act.Tool); ok && p.toolEnabled(act.Tool) {
		return p.dispatchScenarioTool(ctx, tool, act)
	}
	p.logger.Warn("unrecognized tool, sleeping", "tool", act.Tool)
	return false, nil
}

func (p *Planner) toolEnabled(name string) bool {
	for _, t := range p.agent.EnabledTools(p.restrictions) {
		if t.ToolName == name {
			return true
		}
	}
	return false
}

func (p *Planner) dispatchSendToUser(ctx context.Context, act Action) (bool, error) {
	text := stringArg(act.Args, "text")
	if text == "" {
		text = stringArg(act.Args, "message")
	}
	if text == "" {
		return false, fmt.Errorf("%s: missing text argument", act.Tool)
	}
	_, err := p.log.Emit(event.Draft{
		Type:      event.TypeMessage,
		Channel:   event.ChannelUserPlanner,
		Author:    event.AuthorPlanner,
		Payload:   event.Payload{Text: text},
		Reasoning: act.Reasoning,
	})
	return false, err
}

func (p *Planner) dispatchReadAttachment(ctx context.Context, act Action) (bool, error) {
	name := stringArg(act.Args, "name")
	if name == "" {
		return false, fmt.Errorf("readAttachment: missing name argument")
	}

	file, ok := p.vault.GetByName(name)
	if !ok || file.Private {
		reason := "attachment not found"
		if ok {
			reason = "attachment is private"
		}
		_, err := p.log.Emit(event.Draft{
			Type:    event.TypeReadAttachment,
			Channel: event.ChannelTool,
			Author:  event.AuthorPlanner,
			Payload: event.Payload{Name: name, OK: event.Bool(false), Error: reason},
		})
		return true, err
	}

	_, err := p.log.Emit(event.Draft{
		Type:      event.TypeReadAttachment,
		Channel:   event.ChannelTool,
		Author:    event.AuthorPlanner,
		Payload:   event.Payload{Name: name, OK: event.Bool(true), Size: len(file.Bytes), Excerpt: excerpt(file.Bytes)},
		Reasoning: act.Reasoning,
	})
	return true, err
}

const maxExcerptBytes = 4096

// excerpt returns the readable head of a file, truncated on a rune
// boundary. Binary content yields an empty excerpt; size still tells the
// planner the file exists.
func excerpt(data []byte) string {
	if !utf8.Valid(data) {
		return ""
	}
	if len(data) <= maxExcerptBytes {
		return string(data)
	}
	cut := maxExcerptBytes
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return string(data[:cut]) + "\n… (truncated)"
}

func (p *Planner) dispatchDone(ctx context.Context, act Action) (bool, error) {
	summary := stringArg(act.Args, "summary")
	text := "planner declared its work complete"
	if summary != "" {
		text += ": " + summary
	}
	if _, err := p.log.Emit(event.Draft{
		Type:      event.TypeTrace,
		Channel:   event.ChannelSystem,
		Author:    event.AuthorSystem,
		Payload:   event.Payload{Text: text},
		Reasoning: act.Reasoning,
	}); err != nil {
		return false, err
	}

	p.mu.Lock()
	p.state, _ = Next(p.state, InputFinish)
	p.mu.Unlock()
	return false, nil
}

func (p *Planner) dispatchSendToRemote(ctx context.Context, act Action) (bool, error) {
	latest := gate.LatestStatus(p.log.Events())
	if !gate.RemoteSendAllowed(latest) {
		return false, p.emitToolFailure(act.Tool, fmt.Sprintf("remote send blocked: conversation status is %s", latest))
	}

	text := stringArg(act.Args, "text")
	if text == "" {
		return false, p.emitToolFailure(act.Tool, "missing text argument")
	}

	p.mu.Lock()
	term := p.terminal
	p.mu.Unlock()

	finality, names := gate.ApplyTerminal(term, event.Finality(stringArg(act.Args, "finality")), attachmentNames(act.Args))

	// Resolve every attachment before anything is emitted or sent. One
	// unresolved name aborts the whole send.
	msg := OutgoingMessage{Text: text, Finality: finality}
	atts := make([]event.Attachment, 0, len(names))
	for _, name := range names {
		file, ok := p.vault.GetByName(name)
		if !ok {
			return false, p.emitToolFailure(act.Tool, fmt.Sprintf("attachment %q not found", name))
		}
		if file.Private {
			return false, p.emitToolFailure(act.Tool, fmt.Sprintf("attachment %q is private", name))
		}
		msg.Attachments = append(msg.Attachments, file)
		atts = append(atts, event.Attachment{Name: file.Name, MimeType: file.MimeType})
	}

	if _, err := p.log.Emit(event.Draft{
		Type:      event.TypeMessage,
		Channel:   event.ChannelPlannerAgent,
		Author:    event.AuthorPlanner,
		Payload:   event.Payload{Text: text, Attachments: atts, Finality: finality},
		Reasoning: act.Reasoning,
	}); err != nil {
		return false, err
	}

	var err error
	if p.task.TaskID() == "" {
		err = p.task.StartNew(ctx, msg)
	} else {
		err = p.task.Send(ctx, msg)
	}
	if err != nil {
		return false, p.emitToolFailure(act.Tool, fmt.Sprintf("transport send failed: %v", err))
	}

	if finality == event.FinalityConversation {
		p.mu.Lock()
		p.terminal = gate.TerminalState{}
		p.mu.Unlock()
	}
	return false, nil
}

// dispatchScenarioTool records the call, asks the synthesis oracle for a
// result and records that too. Oracle failures become tool_result events,
// never tick errors. A tool marked endsConversation arms the terminal
// obligation with its outcome, the documents its result produced and an
// optional note carried in the output.
func (p *Planner) dispatchScenarioTool(ctx context.Context, tool scenario.Tool, act Action) (bool, error) {
	if _, err := p.log.Emit(event.Draft{
		Type:      event.TypeToolCall,
		Channel:   event.ChannelTool,
		Author:    event.AuthorPlanner,
		Payload:   event.Payload{Name: tool.ToolName, Args: act.Args},
		Reasoning: act.Reasoning,
	}); err != nil {
		return false, err
	}

	output, err := p.oracle.Execute(ctx, OracleRequest{
		Tool:     tool,
		Args:     act.Args,
		Agent:    p.agent,
		Scenario: p.scenario,
		History:  prompt.History(p.log.Events()),
	})
	if err != nil {
		return true, p.emitToolFailure(tool.ToolName, fmt.Sprintf("tool execution failed: %v", err))
	}

	result, err := p.log.Emit(event.Draft{
		Type:    event.TypeToolResult,
		Channel: event.ChannelTool,
		Author:  event.AuthorPlanner,
		Payload: event.Payload{Name: tool.ToolName, Result: output, OK: event.Bool(true)},
	})
	if err != nil {
		return false, err
	}

	if tool.EndsConversation {
		at, perr := time.Parse(time.RFC3339Nano, result.Timestamp)
		if perr != nil {
			at = time.Unix(0, 0).UTC()
		}
		var names []string
		for _, doc := range eventlog.IndexResult(tool.ToolName, at, output) {
			names = append(names, doc.Name)
		}
		status := tool.ConversationEndStatus
		if status == "" {
			status = "neutral"
		}
		var note string
		if m, ok := output.(map[string]any); ok {
			note, _ = m["note"].(string)
		}
		p.mu.Lock()
		p.terminal = gate.TerminalState{Pending: true, Status: status, Attachments: names, Note: note}
		p.mu.Unlock()
	}
	return true, nil
}

// emitToolFailure records a failed tool execution as a tool_result event.
// The tick itself succeeds; the failure is visible only in the log.
func (p *Planner) emitToolFailure(toolName, reason string) error {
	_, err := p.log.Emit(event.Draft{
		Type:    event.TypeToolResult,
		Channel: event.ChannelTool,
		Author:  event.AuthorPlanner,
		Payload: event.Payload{Name: toolName, OK: event.Bool(false), Error: reason},
	})
	return err
}
