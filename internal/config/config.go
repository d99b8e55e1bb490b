package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	HTTPAddr string
	DataDir  string
	DBPath   string
	LogLevel string

	ScenarioPath string
	AgentID      string
	RemoteURL    string

	LLMProvider string
	LLMModel    string
	LLMAPIKey   string

	ToolRestrictions []string
	Instructions     string
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("PLANNERD_DATA_DIR", "data")
	return Config{
		HTTPAddr: getEnv("PLANNERD_HTTP_ADDR", ":8080"),
		DataDir:  dataDir,
		DBPath:   getEnv("PLANNERD_DB_PATH", filepath.Join(dataDir, "plannerd.db")),
		LogLevel: getEnv("PLANNERD_LOG_LEVEL", "info"),

		ScenarioPath: getEnv("PLANNERD_SCENARIO", "scenario.yaml"),
		AgentID:      getEnv("PLANNERD_AGENT_ID", ""),
		RemoteURL:    getEnv("PLANNERD_REMOTE_URL", ""),

		LLMProvider: getEnv("PLANNERD_LLM_PROVIDER", "openai-responses"),
		LLMModel:    getEnv("PLANNERD_LLM_MODEL", ""),
		LLMAPIKey:   getEnv("PLANNERD_LLM_API_KEY", ""),

		ToolRestrictions: splitList(getEnv("PLANNERD_TOOL_RESTRICTIONS", "")),
		Instructions:     getEnv("PLANNERD_INSTRUCTIONS", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
