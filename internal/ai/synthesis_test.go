package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/flitsinc/go-planner/internal/planner"
	"github.com/flitsinc/go-planner/internal/scenario"
)

type scriptedLLM struct {
	reply  string
	prompt string
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.reply, nil
}

func synthRequest() planner.OracleRequest {
	return planner.OracleRequest{
		Tool: scenario.Tool{
			ToolName:          "searchFlights",
			Description:       "Search for flights.",
			SynthesisGuidance: "Return two plausible options.",
		},
		Args:     map[string]any{"from": "OSL", "to": "CDG"},
		Agent:    scenario.Agent{AgentID: "travel-planner", Situation: "Booking a trip."},
		Scenario: scenario.Config{Metadata: scenario.Metadata{Title: "Travel booking"}},
		History:  "[1] message your principal -> you: book me a flight",
	}
}

func TestSynthesizerParsesJSONOutput(t *testing.T) {
	llm := &scriptedLLM{reply: "```json\n{\"flights\": [{\"name\": \"DY123\"}]}\n```"}
	s := NewSynthesizer(llm)

	out, err := s.Execute(context.Background(), synthRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("output type %T, want map", out)
	}
	if _, ok := m["flights"]; !ok {
		t.Errorf("output = %v", m)
	}

	for _, fragment := range []string{"searchFlights", "Return two plausible options.", `"from":"OSL"`, "book me a flight"} {
		if !strings.Contains(llm.prompt, fragment) {
			t.Errorf("synthesis prompt missing %q", fragment)
		}
	}
}

func TestSynthesizerExtractsJSONFromProse(t *testing.T) {
	llm := &scriptedLLM{reply: `Here is the result: {"ok": true, "price": 120} hope that helps`}
	s := NewSynthesizer(llm)

	out, err := s.Execute(context.Background(), synthRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["price"] != float64(120) {
		t.Fatalf("output = %v (%T)", out, out)
	}
}

func TestSynthesizerFallsBackToText(t *testing.T) {
	llm := &scriptedLLM{reply: "No flights available this week."}
	s := NewSynthesizer(llm)

	out, err := s.Execute(context.Background(), synthRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "No flights available this week." {
		t.Errorf("output = %v", out)
	}
}
