package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flitsinc/go-planner/internal/event"
	"github.com/flitsinc/go-planner/internal/eventlog"
	"github.com/flitsinc/go-planner/internal/gate"
	"github.com/flitsinc/go-planner/internal/scenario"
	"github.com/flitsinc/go-planner/internal/vault"
)

// Inputs carries everything Build needs. Nothing here depends on wall
// clock; timestamps only enter through the events themselves.
type Inputs struct {
	Events                 []event.Event
	Scenario               scenario.Config
	Agent                  scenario.Agent
	Documents              []eventlog.Document
	Files                  []vault.File
	Terminal               gate.TerminalState
	ToolRestrictions       []string
	AdditionalInstructions string
}

const answerFormat = `Reply with a single JSON object and nothing else:

{"reasoning": "<one or two sentences>", "action": {"tool": "<tool name>", "args": { ... }}}

Pick exactly one tool from the list above. If nothing useful can be done
right now, pick "sleep".`

// Build renders the full LLM context: role preamble, extra instructions,
// conversation history, available files, the gated tool menu, the one-time
// starting hint and the finalization reminder. The result is sent verbatim
// as the single user turn.
func Build(in Inputs) string {
	latest := gate.LatestStatus(in.Events)

	b := NewBuilder()
	b.Add("Your Role", preamble(in.Scenario, in.Agent))
	b.Add("Additional Instructions", in.AdditionalInstructions)
	b.Add("Conversation So Far", renderHistory(in.Events))
	b.Add("Available Files", renderFiles(in.Files, in.Documents))
	b.Add("Available Tools", renderMenu(Menu(in.Agent, latest, in.Terminal, in.ToolRestrictions, len(in.Files)+len(in.Documents) > 0)))

	if hint := startingHint(in); hint != "" {
		b.Add("Getting Started", hint)
	}
	if in.Terminal.Pending {
		b.Add("Finalize The Conversation", terminalReminder(in.Terminal))
	}
	b.Add("Answer Format", answerFormat)
	return b.String()
}

func preamble(cfg scenario.Config, agent scenario.Agent) string {
	var sb strings.Builder
	sb.WriteString("You are the planning agent ")
	sb.WriteString(agent.AgentID)
	sb.WriteString(".")
	if agent.Principal != "" {
		sb.WriteString(" You act on behalf of your principal: ")
		sb.WriteString(agent.Principal)
		sb.WriteString(".")
	}
	if cfg.Metadata.Title != "" {
		sb.WriteString("\nScenario: ")
		sb.WriteString(cfg.Metadata.Title)
		if cfg.Metadata.Description != "" {
			sb.WriteString(". ")
			sb.WriteString(cfg.Metadata.Description)
		}
	}
	if agent.Situation != "" {
		sb.WriteString("\nSituation: ")
		sb.WriteString(agent.Situation)
	}
	if len(agent.Goals) > 0 {
		sb.WriteString("\nGoals:")
		for _, goal := range agent.Goals {
			sb.WriteString("\n- ")
			sb.WriteString(goal)
		}
	}
	return sb.String()
}

// History renders the event log in the compact tagged form used inside the
// prompt. The synthesis oracle receives the same rendering.
func History(events []event.Event) string {
	return renderHistory(events)
}

func renderHistory(events []event.Event) string {
	if len(events) == 0 {
		return "(no events yet; the conversation has not started)"
	}
	var sb strings.Builder
	for i, evt := range events {
		if i > 0 {
			sb.WriteString("\n")
		}
		if evt.Reasoning != "" {
			fmt.Fprintf(&sb, "[%d] reasoning: %s\n", evt.Seq, evt.Reasoning)
		}
		sb.WriteString(renderEvent(evt))
	}
	return sb.String()
}

func renderEvent(evt event.Event) string {
	switch evt.Type {
	case event.TypeMessage:
		from, to := messageRoute(evt)
		line := fmt.Sprintf("[%d] message %s -> %s: %s", evt.Seq, from, to, evt.Payload.Text)
		if len(evt.Payload.Attachments) > 0 {
			names := make([]string, 0, len(evt.Payload.Attachments))
			for _, att := range evt.Payload.Attachments {
				names = append(names, att.Name)
			}
			line += fmt.Sprintf(" (attachments: %s)", strings.Join(names, ", "))
		}
		if evt.Payload.Finality != "" && evt.Payload.Finality != event.FinalityNone {
			line += fmt.Sprintf(" [finality=%s]", evt.Payload.Finality)
		}
		return line
	case event.TypeToolCall:
		return fmt.Sprintf("[%d] tool_call %s(%s)", evt.Seq, evt.Payload.Name, compactJSON(evt.Payload.Args))
	case event.TypeToolResult:
		return fmt.Sprintf("[%d] tool_result %s -> %s", evt.Seq, evt.Payload.Name, renderResult(evt.Payload))
	case event.TypeReadAttachment:
		// Rendered as a synthesized call+result pair.
		call := fmt.Sprintf("[%d] tool_call readAttachment(%s)", evt.Seq, compactJSON(map[string]any{"name": evt.Payload.Name}))
		result := fmt.Sprintf("[%d] tool_result readAttachment -> %s", evt.Seq, renderResult(evt.Payload))
		return call + "\n" + result
	case event.TypeStatus:
		return fmt.Sprintf("[%d] status: %s", evt.Seq, evt.Payload.State)
	case event.TypeTrace:
		return fmt.Sprintf("[%d] trace: %s", evt.Seq, evt.Payload.Text)
	default:
		return fmt.Sprintf("[%d] %s", evt.Seq, evt.Type)
	}
}

func messageRoute(evt event.Event) (string, string) {
	switch evt.Channel {
	case event.ChannelUserPlanner:
		if evt.Author == event.AuthorUser {
			return "your principal", "you"
		}
		return "you", "your principal"
	case event.ChannelPlannerAgent:
		if evt.Author == event.AuthorPlanner {
			return "you", "remote agent"
		}
		return "remote agent", "you"
	default:
		return string(evt.Author), string(evt.Channel)
	}
}

func renderResult(p event.Payload) string {
	fields := map[string]any{}
	if p.OK != nil {
		fields["ok"] = *p.OK
	}
	if p.Error != "" {
		fields["error"] = p.Error
	}
	if p.Size > 0 {
		fields["size"] = p.Size
	}
	if p.Excerpt != "" {
		fields["text_excerpt"] = p.Excerpt
	}
	if p.Result != nil {
		if len(fields) == 0 {
			return compactJSON(p.Result)
		}
		fields["result"] = p.Result
	}
	if len(fields) == 0 {
		return "{}"
	}
	return compactJSON(fields)
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// renderFiles merges the attachment vault and the document index,
// de-duplicated by name with the vault entry winning.
func renderFiles(files []vault.File, docs []eventlog.Document) string {
	seen := map[string]struct{}{}
	var lines []string
	for _, f := range files {
		seen[f.Name] = struct{}{}
		line := fmt.Sprintf("- %s (%s, %d bytes)", f.Name, f.MimeType, len(f.Bytes))
		if f.Private {
			line += " [private: do not read or forward]"
		}
		if f.Summary != "" {
			line += ": " + f.Summary
		}
		lines = append(lines, line)
	}
	for _, d := range docs {
		if _, dup := seen[d.Name]; dup {
			continue
		}
		line := fmt.Sprintf("- %s (%s, document)", d.Name, d.ContentType)
		if d.Summary != "" {
			line += ": " + d.Summary
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func renderMenu(menu []ToolDescriptor) string {
	var sb strings.Builder
	for i, tool := range menu {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "- %s: %s", tool.Signature, tool.Description)
	}
	return sb.String()
}

// startingHint is shown only before the planner has sent its first message
// to the counterpart.
func startingHint(in Inputs) string {
	if in.Agent.MessageToUseWhenInitiatingConversation == "" {
		return ""
	}
	for _, evt := range in.Events {
		if evt.Type == event.TypeMessage && evt.Channel == event.ChannelPlannerAgent && evt.Author == event.AuthorPlanner {
			return ""
		}
	}
	return fmt.Sprintf("You have not contacted the remote agent yet. A suggested opening message:\n%q", in.Agent.MessageToUseWhenInitiatingConversation)
}

func terminalReminder(term gate.TerminalState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "A conversation-ending tool has run (outcome: %s).", term.Status)
	sb.WriteString(" Your next message to the remote agent will close the conversation.")
	if len(term.Attachments) > 0 {
		fmt.Fprintf(&sb, " Include these attachments with the closing message: %s.", strings.Join(term.Attachments, ", "))
	}
	if term.Note != "" {
		sb.WriteString("\nNote: ")
		sb.WriteString(term.Note)
	}
	return sb.String()
}
