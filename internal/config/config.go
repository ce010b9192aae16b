// Package config loads AutoFrotz configuration from YAML with environment
// overrides for provider credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all AutoFrotz configuration.
type Config struct {
	Game    GameConfig             `yaml:"game"`
	Journal JournalConfig          `yaml:"journal"`
	Agents  map[string]AgentConfig `yaml:"agents"`
	Maze    MazeConfig             `yaml:"maze"`
	Puzzle  PuzzleConfig           `yaml:"puzzle"`
	Logging LoggingConfig          `yaml:"logging"`
}

// GameConfig controls the turn loop and save behavior.
type GameConfig struct {
	File          string `yaml:"file"`
	MaxTurns      int    `yaml:"max_turns"`
	SaveOnDeath   bool   `yaml:"save_on_death"`
	AutosaveEvery int    `yaml:"autosave_every"`
	SaveOnRisky   bool   `yaml:"save_on_risky"`
	SaveSlots     int    `yaml:"save_slots"`
}

// JournalConfig locates the SQLite journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig configures one logical LLM agent.
type AgentConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"`
}

// TimeoutDuration parses the agent call timeout, defaulting to 60s.
func (a AgentConfig) TimeoutDuration() time.Duration {
	if a.Timeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// MazeConfig tunes the maze detector and solver.
type MazeConfig struct {
	MinMarkers          int     `yaml:"min_markers"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// PuzzleConfig tunes the puzzle tracker cadence.
type PuzzleConfig struct {
	EvalInterval     int `yaml:"eval_interval"`
	AttemptThreshold int `yaml:"attempt_threshold"`
}

// LoggingConfig controls zap output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Game: GameConfig{
			MaxTurns:      1000,
			SaveOnDeath:   true,
			AutosaveEvery: 25,
			SaveOnRisky:   true,
			SaveSlots:     3,
		},
		Journal: JournalConfig{Path: "autofrotz.db"},
		Agents: map[string]AgentConfig{
			"game_agent":   {Temperature: 0.7, MaxTokens: 1024, Timeout: "60s"},
			"puzzle_agent": {Temperature: 0.5, MaxTokens: 1024, Timeout: "60s"},
			"map_parser":   {Temperature: 0.1, MaxTokens: 512, Timeout: "30s"},
			"item_parser":  {Temperature: 0.1, MaxTokens: 512, Timeout: "30s"},
		},
		Maze: MazeConfig{
			MinMarkers:          8,
			SimilarityThreshold: 0.95,
		},
		Puzzle: PuzzleConfig{
			EvalInterval:     3,
			AttemptThreshold: 5,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file, fills defaults for missing sections, and
// applies environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.fillDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.Game.MaxTurns <= 0 {
		c.Game.MaxTurns = def.Game.MaxTurns
	}
	if c.Game.AutosaveEvery <= 0 {
		c.Game.AutosaveEvery = def.Game.AutosaveEvery
	}
	if c.Game.SaveSlots <= 0 {
		c.Game.SaveSlots = def.Game.SaveSlots
	}
	if c.Journal.Path == "" {
		c.Journal.Path = def.Journal.Path
	}
	if c.Agents == nil {
		c.Agents = def.Agents
	} else {
		for name, defAgent := range def.Agents {
			if _, ok := c.Agents[name]; !ok {
				c.Agents[name] = defAgent
			}
		}
	}
	if c.Maze.MinMarkers <= 0 {
		c.Maze.MinMarkers = def.Maze.MinMarkers
	}
	if c.Maze.SimilarityThreshold <= 0 {
		c.Maze.SimilarityThreshold = def.Maze.SimilarityThreshold
	}
	if c.Puzzle.EvalInterval <= 0 {
		c.Puzzle.EvalInterval = def.Puzzle.EvalInterval
	}
	if c.Puzzle.AttemptThreshold <= 0 {
		c.Puzzle.AttemptThreshold = def.Puzzle.AttemptThreshold
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// applyEnvOverrides fills in API keys from the environment for any agent
// that does not carry one in the file. A provider-specific key wins over the
// generic AUTOFROTZ_API_KEY.
func (c *Config) applyEnvOverrides() {
	providerKeys := map[string]string{
		"anthropic": os.Getenv("ANTHROPIC_API_KEY"),
		"openai":    os.Getenv("OPENAI_API_KEY"),
		"gemini":    os.Getenv("GEMINI_API_KEY"),
	}
	generic := os.Getenv("AUTOFROTZ_API_KEY")

	for name, agent := range c.Agents {
		if agent.APIKey != "" {
			continue
		}
		if key := providerKeys[agent.Provider]; key != "" {
			agent.APIKey = key
		} else if generic != "" {
			agent.APIKey = generic
		}
		c.Agents[name] = agent
	}
}
