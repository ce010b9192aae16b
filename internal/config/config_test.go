package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Game.MaxTurns)
	assert.Equal(t, 25, cfg.Game.AutosaveEvery)
	assert.Equal(t, 3, cfg.Game.SaveSlots)
	assert.Equal(t, 8, cfg.Maze.MinMarkers)
	assert.Equal(t, 0.95, cfg.Maze.SimilarityThreshold)
	assert.Equal(t, 3, cfg.Puzzle.EvalInterval)
	assert.Contains(t, cfg.Agents, "game_agent")
	assert.Contains(t, cfg.Agents, "item_parser")
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autofrotz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
game:
  max_turns: 50
agents:
  game_agent:
    provider: anthropic
    model: claude-sonnet-4-5
    temperature: 0.9
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Game.MaxTurns)
	assert.Equal(t, 25, cfg.Game.AutosaveEvery, "unset fields keep defaults")
	assert.Equal(t, "anthropic", cfg.Agents["game_agent"].Provider)
	assert.Equal(t, 0.9, cfg.Agents["game_agent"].Temperature)
	assert.Contains(t, cfg.Agents, "map_parser", "missing agents filled from defaults")
}

func TestEnvOverrides(t *testing.T) {
	t.Run("provider specific key wins", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
		t.Setenv("AUTOFROTZ_API_KEY", "generic")

		cfg := DefaultConfig()
		a := cfg.Agents["game_agent"]
		a.Provider = "anthropic"
		cfg.Agents["game_agent"] = a

		cfg.applyEnvOverrides()
		assert.Equal(t, "sk-ant-test", cfg.Agents["game_agent"].APIKey)
	})

	t.Run("generic fallback", func(t *testing.T) {
		t.Setenv("AUTOFROTZ_API_KEY", "generic")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "generic", cfg.Agents["map_parser"].APIKey)
	})

	t.Run("explicit key untouched", func(t *testing.T) {
		t.Setenv("AUTOFROTZ_API_KEY", "generic")
		cfg := DefaultConfig()
		a := cfg.Agents["game_agent"]
		a.APIKey = "from-file"
		cfg.Agents["game_agent"] = a

		cfg.applyEnvOverrides()
		assert.Equal(t, "from-file", cfg.Agents["game_agent"].APIKey)
	})
}

func TestTimeoutDuration(t *testing.T) {
	assert.Equal(t, 90*time.Second, AgentConfig{Timeout: "90s"}.TimeoutDuration())
	assert.Equal(t, 60*time.Second, AgentConfig{}.TimeoutDuration())
	assert.Equal(t, 60*time.Second, AgentConfig{Timeout: "soon"}.TimeoutDuration())
}
