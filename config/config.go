// Package config loads the Options every runtime component reads (scheduler
// cadence, turn-engine limits, transport/lock/gate timings, chat room
// freshness window, provider credentials). Grounded on the teacher's
// pkg/goclaw/copilot/loader.go: YAML file + ${VAR}/$VAR expansion +
// .env loading + environment-variable secret resolution.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Options bundles every tunable named in spec.md §6's option table plus
// provider connection settings.
type Options struct {
	TickMs              int `yaml:"tick_ms"`
	TurnTimeoutMs       int `yaml:"turn_timeout_ms"`
	IdleBackoffMs       int `yaml:"idle_backoff_ms"`
	ProactiveMs         int `yaml:"proactive_ms"`
	PokeAfterMs         int `yaml:"poke_after_ms"`
	MaxHops             int `yaml:"max_hops"`
	MaxToolCallsPerTurn int `yaml:"max_tool_calls_per_turn"`
	LockMaxMs           int `yaml:"lock_max_ms"`
	TransportCooldownMs int `yaml:"transport_cooldown_ms"`
	IdleStreamMs        int `yaml:"idle_stream_ms"`
	HardStopMs          int `yaml:"hard_stop_ms"`
	FreshWindowMs       int `yaml:"fresh_window_ms"`

	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Fallback string `yaml:"fallback_url"`
	APIKey   string `yaml:"api_key"`

	WorkspaceRoot string `yaml:"workspace_root"`

	Agents []AgentSpec `yaml:"agents"`
}

// AgentSpec describes one agent to register at startup.
type AgentSpec struct {
	ID           string `yaml:"id"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
}

// Default returns Options with spec.md's documented defaults.
func Default() Options {
	return Options{
		TickMs:              400,
		TurnTimeoutMs:       8000,
		IdleBackoffMs:       1000,
		ProactiveMs:         3000,
		PokeAfterMs:         30000,
		MaxHops:             8,
		MaxToolCallsPerTurn: 6,
		LockMaxMs:           15 * 60 * 1000,
		TransportCooldownMs: 150,
		IdleStreamMs:        150000,
		HardStopMs:          300000,
		FreshWindowMs:       2000,
		WorkspaceRoot:       ".",
	}
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// Load reads and parses a YAML config file, expanding ${VAR}/$VAR
// references against the environment and .env files first, and resolving
// the provider API key from well-known environment variables when the
// config value is empty or still a placeholder reference.
func Load(path string) (Options, error) {
	loadEnvFiles()
	opts := Default()

	if path == "" {
		resolveSecrets(&opts)
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &opts); err != nil {
		return Options{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	resolveSecrets(&opts)
	return opts, nil
}

func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// isEnvReference reports whether s is still an unexpanded ${VAR}/$VAR
// placeholder.
func isEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}

func resolveSecrets(opts *Options) {
	if opts.APIKey == "" || isEnvReference(opts.APIKey) {
		for _, name := range []string{"TURNROOM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"} {
			if v := os.Getenv(name); v != "" {
				opts.APIKey = v
				break
			}
		}
	}
	if opts.Model == "" {
		opts.Model = os.Getenv("TURNROOM_MODEL")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = os.Getenv("TURNROOM_BASE_URL")
	}
}
