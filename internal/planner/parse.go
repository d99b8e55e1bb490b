package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flitsinc/go-planner/internal/prompt"
)

// Action is the planner's parsed decision for one tick.
type Action struct {
	Reasoning string
	Tool      string
	Args      map[string]any
}

// SleepAction is the degraded decision used when the model's reply cannot
// be parsed at all.
func SleepAction() Action {
	return Action{Tool: prompt.ToolSleep}
}

type actionEnvelope struct {
	Reasoning string          `json:"reasoning"`
	Action    *actionBody     `json:"action"`
	ToolCall  *actionBody     `json:"toolCall"`
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args"`
}

type actionBody struct {
	Tool string          `json:"tool"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// StripCodeFences removes a single wrapping Markdown code fence, with or
// without a language tag.
func StripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line (```json etc).
		if firstLine := strings.TrimSpace(trimmed[:idx]); firstLine == "" || !strings.ContainsAny(firstLine, "{}") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// ParseAction turns a model reply into an Action. The strict pass requires
// a well-formed JSON object with an action.tool or toolCall.tool field; the
// lenient pass retries on the outermost {...} block of the text. Callers
// fall back to sleep when both fail.
func ParseAction(text string) (Action, error) {
	cleaned := StripCodeFences(text)

	if act, ok := parseEnvelope(cleaned); ok {
		return act, nil
	}

	// Lenient: the reply may wrap the JSON in prose.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if act, ok := parseEnvelope(cleaned[start : end+1]); ok {
			return act, nil
		}
	}
	return Action{}, fmt.Errorf("no recognizable action in model reply")
}

func parseEnvelope(text string) (Action, bool) {
	var env actionEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Action{}, false
	}

	body := env.Action
	if body == nil {
		body = env.ToolCall
	}
	var tool string
	var rawArgs json.RawMessage
	switch {
	case body != nil:
		tool = body.Tool
		if tool == "" {
			tool = body.Name
		}
		rawArgs = body.Args
	case env.Tool != "":
		// Historical flat shape: {"tool": ..., "args": ...}.
		tool = env.Tool
		rawArgs = env.Args
	}
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return Action{}, false
	}

	args := map[string]any{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return Action{}, false
		}
	}
	return Action{Reasoning: strings.TrimSpace(env.Reasoning), Tool: tool, Args: args}, true
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// attachmentNames extracts the requested attachment names from a
// sendMessageToRemoteAgent args list, accepting both [{name}] and [name].
func attachmentNames(args map[string]any) []string {
	raw, ok := args["attachments"].([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			if name := strings.TrimSpace(v); name != "" {
				names = append(names, name)
			}
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				if name = strings.TrimSpace(name); name != "" {
					names = append(names, name)
				}
			}
		}
	}
	return names
}
