package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flitsinc/go-planner/internal/event"
	"github.com/flitsinc/go-planner/internal/gate"
	"github.com/flitsinc/go-planner/internal/scenario"
)

// Core tool names. Scenario tools are added on top of these.
const (
	ToolSleep        = "sleep"
	ToolSendToUser   = "sendMessageToMyPrincipal"
	ToolAskUser      = "askUser" // alias of ToolSendToUser
	ToolReadAttach   = "readAttachment"
	ToolDone         = "done"
	ToolSendToRemote = "sendMessageToRemoteAgent"
)

// ToolDescriptor is one entry of the menu offered to the LLM.
type ToolDescriptor struct {
	Name        string
	Description string
	Signature   string
}

// Menu computes the tools legal right now. Membership is gated by the
// latest remote status, the pending-terminal flag and the scenario tool
// restriction list.
func Menu(agent scenario.Agent, latest event.Status, term gate.TerminalState, restrictions []string, haveFiles bool) []ToolDescriptor {
	menu := []ToolDescriptor{
		{
			Name:        ToolSleep,
			Description: "Do nothing this turn and wait for new input.",
			Signature:   "sleep({})",
		},
		{
			Name:        ToolSendToUser,
			Description: "Send a message to your principal (the human you work for).",
			Signature:   `sendMessageToMyPrincipal({ text: string })`,
		},
		{
			Name:        ToolDone,
			Description: "Declare your work finished. No further actions will be taken.",
			Signature:   `done({ summary?: string })`,
		},
	}

	if gate.WrapUpOnly(latest) {
		// Remote conversation is over; one user-facing wrap-up remains.
		return menu
	}

	if haveFiles {
		menu = append(menu, ToolDescriptor{
			Name:        ToolReadAttach,
			Description: "Read the content of an attachment you can see in the files list.",
			Signature:   `readAttachment({ name: string })`,
		})
	}
	if gate.RemoteSendAllowed(latest) {
		desc := "Send a message to the remote counterpart agent."
		if term.Pending {
			desc += " The conversation is ending: this send will carry conversation finality."
		}
		menu = append(menu, ToolDescriptor{
			Name:        ToolSendToRemote,
			Description: desc,
			Signature:   `sendMessageToRemoteAgent({ text: string, finality?: "none"|"turn"|"conversation", attachments?: [{ name: string }] })`,
		})
	}

	for _, tool := range agent.EnabledTools(restrictions) {
		menu = append(menu, ToolDescriptor{
			Name:        tool.ToolName,
			Description: tool.Description,
			Signature:   Signature(tool),
		})
	}
	return menu
}

// Signature renders a scenario tool's input schema as a compact interface
// signature.
func Signature(tool scenario.Tool) string {
	props, _ := tool.InputSchema["properties"].(map[string]any)
	if len(props) == 0 {
		return fmt.Sprintf("%s({})", tool.ToolName)
	}
	required := map[string]struct{}{}
	if reqList, ok := tool.InputSchema["required"].([]any); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]string, 0, len(names))
	for _, name := range names {
		optional := ""
		if _, ok := required[name]; !ok {
			optional = "?"
		}
		fields = append(fields, fmt.Sprintf("%s%s: %s", name, optional, schemaType(props[name])))
	}
	return fmt.Sprintf("%s({ %s })", tool.ToolName, strings.Join(fields, ", "))
}

func schemaType(schema any) string {
	m, ok := schema.(map[string]any)
	if !ok {
		return "any"
	}
	if enum, ok := m["enum"].([]any); ok && len(enum) > 0 {
		parts := make([]string, 0, len(enum))
		for _, v := range enum {
			parts = append(parts, fmt.Sprintf("%q", fmt.Sprintf("%v", v)))
		}
		return strings.Join(parts, "|")
	}
	switch t, _ := m["type"].(string); t {
	case "string":
		return "string"
	case "number", "integer":
		return "number"
	case "boolean":
		return "boolean"
	case "array":
		return schemaType(m["items"]) + "[]"
	case "object":
		return "object"
	default:
		return "any"
	}
}
