package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every runtime knob the agent recognises. Zero values are
// replaced by Default() before use.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Sessions SessionsConfig `yaml:"sessions"`
}

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	EnableCORS bool   `yaml:"enable_cors"`
	Debug      bool   `yaml:"debug"`
}

// LLMConfig configures the model provider endpoint.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// AgentConfig bounds the ReAct loop and its safety valves.
type AgentConfig struct {
	MaxIterations          int           `yaml:"max_iterations"`
	DirectModeIterations   int           `yaml:"direct_mode_iterations"`
	LLMCallTimeout         time.Duration `yaml:"llm_call_timeout"`
	ToolCallTimeout        time.Duration `yaml:"tool_call_timeout"`
	LoopDetectionWarn      int           `yaml:"loop_detection_threshold"`
	LoopDetectionAbort     int           `yaml:"loop_detection_abort"`
	RecoveryMaxRetries     int           `yaml:"recovery_max_retries"`
	ContextAutosave        bool          `yaml:"context_autosave"`
	ConversationSliceSize  int           `yaml:"conversation_slice_size"`
	ConversationSliceChars int           `yaml:"conversation_slice_chars"`
}

// SandboxConfig configures the per-session container runtime.
type SandboxConfig struct {
	Image       string `yaml:"image"`
	MountPath   string `yaml:"mount_path"`
	AutoCleanup bool   `yaml:"auto_cleanup"`
}

// SessionsConfig configures on-disk session storage.
type SessionsConfig struct {
	Root string `yaml:"workspace_root"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	root := "sessions"
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, ".atlas", "sessions")
	}
	return &Config{
		Server: ServerConfig{
			Host:       "localhost",
			Port:       8080,
			EnableCORS: true,
		},
		LLM: LLMConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "anthropic/claude-sonnet-4",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Agent: AgentConfig{
			MaxIterations:          100,
			DirectModeIterations:   20,
			LLMCallTimeout:         120 * time.Second,
			ToolCallTimeout:        300 * time.Second,
			LoopDetectionWarn:      2,
			LoopDetectionAbort:     3,
			RecoveryMaxRetries:     3,
			ContextAutosave:        true,
			ConversationSliceSize:  5,
			ConversationSliceChars: 200,
		},
		Sandbox: SandboxConfig{
			Image:     "python:3.11-slim",
			MountPath: "/workspace",
		},
		Sessions: SessionsConfig{Root: root},
	}
}

// Load reads the YAML file at path (when it exists) over the defaults, then
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ATLAS_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("ATLAS_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("ATLAS_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("ATLAS_SESSIONS_ROOT"); v != "" {
		c.Sessions.Root = v
	}
	if v := os.Getenv("ATLAS_SANDBOX_IMAGE"); v != "" {
		c.Sandbox.Image = v
	}
	if v := os.Getenv("ATLAS_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("ATLAS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.Port = n
		}
	}
}

// Validate rejects configurations the runtime cannot honour.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.LoopDetectionWarn >= c.Agent.LoopDetectionAbort {
		return fmt.Errorf("loop detection warn threshold (%d) must be below abort threshold (%d)",
			c.Agent.LoopDetectionWarn, c.Agent.LoopDetectionAbort)
	}
	if c.Agent.LLMCallTimeout <= 0 || c.Agent.ToolCallTimeout <= 0 {
		return fmt.Errorf("llm and tool call timeouts must be positive")
	}
	if c.Sandbox.MountPath == "" || !filepath.IsAbs(c.Sandbox.MountPath) {
		return fmt.Errorf("sandbox.mount_path must be an absolute path, got %q", c.Sandbox.MountPath)
	}
	return nil
}
