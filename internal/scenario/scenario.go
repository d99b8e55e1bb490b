// Package scenario defines the read-only configuration that describes the
// roleplay: agent identities, goals, and the scenario-specific tools the
// planner may call.
package scenario

import "strings"

type Config struct {
	Metadata Metadata `json:"metadata" yaml:"metadata"`
	Agents   []Agent  `json:"agents" yaml:"agents"`
}

type Metadata struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type Agent struct {
	AgentID   string   `json:"agentId" yaml:"agentId"`
	Principal string   `json:"principal,omitempty" yaml:"principal,omitempty"`
	Situation string   `json:"situation,omitempty" yaml:"situation,omitempty"`
	Goals     []string `json:"goals,omitempty" yaml:"goals,omitempty"`
	Tools     []Tool   `json:"tools,omitempty" yaml:"tools,omitempty"`

	MessageToUseWhenInitiatingConversation string `json:"messageToUseWhenInitiatingConversation,omitempty" yaml:"messageToUseWhenInitiatingConversation,omitempty"`
}

// Tool is a scenario-defined tool executed through the synthesis oracle.
type Tool struct {
	ToolName          string         `json:"toolName" yaml:"toolName"`
	Description       string         `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema       map[string]any `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	SynthesisGuidance string         `json:"synthesisGuidance,omitempty" yaml:"synthesisGuidance,omitempty"`
	EndsConversation  bool           `json:"endsConversation,omitempty" yaml:"endsConversation,omitempty"`

	// success | failure | neutral; only meaningful when EndsConversation.
	ConversationEndStatus string `json:"conversationEndStatus,omitempty" yaml:"conversationEndStatus,omitempty"`
}

// AgentByID returns the agent configuration for the given id, falling back
// to the first agent when the id is empty or unknown.
func (c Config) AgentByID(id string) (Agent, bool) {
	id = strings.TrimSpace(id)
	for _, a := range c.Agents {
		if a.AgentID == id {
			return a, true
		}
	}
	if id == "" && len(c.Agents) > 0 {
		return c.Agents[0], true
	}
	return Agent{}, false
}

// ToolByName looks a scenario tool up on the agent.
func (a Agent) ToolByName(name string) (Tool, bool) {
	for _, t := range a.Tools {
		if t.ToolName == name {
			return t, true
		}
	}
	return Tool{}, false
}

// EnabledTools filters the agent's tools by an explicit restriction list.
// An empty list enables everything.
func (a Agent) EnabledTools(restrictions []string) []Tool {
	if len(restrictions) == 0 {
		return a.Tools
	}
	allowed := map[string]struct{}{}
	for _, name := range restrictions {
		name = strings.TrimSpace(name)
		if name != "" {
			allowed[name] = struct{}{}
		}
	}
	var out []Tool
	for _, t := range a.Tools {
		if _, ok := allowed[t.ToolName]; ok {
			out = append(out, t)
		}
	}
	return out
}
