package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flitsinc/go-planner/internal/planner"
)

// Synthesizer implements the tool-synthesis oracle on top of an LLM: given
// a scenario tool, its arguments and the conversation so far, it asks the
// model to invent a plausible result.
type Synthesizer struct {
	llm planner.LLMProvider
}

func NewSynthesizer(llm planner.LLMProvider) *Synthesizer {
	return &Synthesizer{llm: llm}
}

func (s *Synthesizer) Execute(ctx context.Context, req planner.OracleRequest) (any, error) {
	reply, err := s.llm.Complete(ctx, synthesisPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("synthesize %s: %w", req.Tool.ToolName, err)
	}

	cleaned := planner.StripCodeFences(reply)
	var output any
	if err := json.Unmarshal([]byte(cleaned), &output); err == nil {
		return output, nil
	}
	// The model may wrap the JSON in prose.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &output); err == nil {
			return output, nil
		}
	}
	// Plain text is an acceptable result shape.
	return cleaned, nil
}

func synthesisPrompt(req planner.OracleRequest) string {
	var sb strings.Builder
	sb.WriteString("You simulate the backend of a tool inside a roleplay scenario.\n")
	fmt.Fprintf(&sb, "Scenario: %s\n", req.Scenario.Metadata.Title)
	if req.Agent.Situation != "" {
		fmt.Fprintf(&sb, "Situation: %s\n", req.Agent.Situation)
	}
	fmt.Fprintf(&sb, "\nTool: %s\nDescription: %s\n", req.Tool.ToolName, req.Tool.Description)
	if req.Tool.SynthesisGuidance != "" {
		fmt.Fprintf(&sb, "Guidance for the result: %s\n", req.Tool.SynthesisGuidance)
	}

	args, err := json.Marshal(req.Args)
	if err != nil {
		args = []byte("{}")
	}
	fmt.Fprintf(&sb, "Arguments: %s\n", args)

	if req.History != "" {
		sb.WriteString("\nConversation so far:\n")
		sb.WriteString(req.History)
		sb.WriteString("\n")
	}

	sb.WriteString(`
Produce the tool's result as a single JSON object, consistent with the
scenario and the conversation. If the result contains documents, represent
each as an object with "name", "contentType" and "content" fields. Reply
with JSON only.`)
	return sb.String()
}
