package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a scenario file. YAML and JSON are both accepted; the format
// is chosen by extension, with JSON content sniffing as a fallback.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read scenario: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return cfg, nil
}

func Parse(data []byte, ext string) (Config, error) {
	var cfg Config
	trimmed := strings.TrimSpace(string(data))
	isJSON := strings.EqualFold(ext, ".json") || strings.HasPrefix(trimmed, "{")
	if isJSON {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("scenario has no agents")
	}
	seen := map[string]struct{}{}
	for i, agent := range cfg.Agents {
		if strings.TrimSpace(agent.AgentID) == "" {
			return fmt.Errorf("agents[%d]: agentId is required", i)
		}
		if _, dup := seen[agent.AgentID]; dup {
			return fmt.Errorf("agents[%d]: duplicate agentId %q", i, agent.AgentID)
		}
		seen[agent.AgentID] = struct{}{}
		for j, tool := range agent.Tools {
			if strings.TrimSpace(tool.ToolName) == "" {
				return fmt.Errorf("agents[%d].tools[%d]: toolName is required", i, j)
			}
			switch tool.ConversationEndStatus {
			case "", "success", "failure", "neutral":
			default:
				return fmt.Errorf("agents[%d].tools[%d]: unknown conversationEndStatus %q", i, j, tool.ConversationEndStatus)
			}
		}
	}
	return nil
}
