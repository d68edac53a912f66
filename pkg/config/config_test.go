package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearKeys(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "PLANLOOP_LLM_API_KEY", "SURF_AI_JSON_TASK_MODEL", "SIMPLE_RAG_CHUNK_SIZE"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearKeys(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 2, cfg.Agent.MaxIterations)
	assert.Equal(t, 2, cfg.Agent.EvalRetries)
	assert.Equal(t, 1500*time.Millisecond, cfg.Browser.CommandTimeout)
	assert.Equal(t, 2, cfg.Browser.MaxRetries)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	assert.Equal(t, 960, cfg.Browser.ViewportHeight)
	assert.Equal(t, "general", cfg.RAG.Simple.Collection)
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	clearKeys(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SURF_AI_JSON_TASK_MODEL", "gpt-4o-mini")
	t.Setenv("SIMPLE_RAG_CHUNK_SIZE", "2048")
	t.Setenv("PLANLOOP_AGENT_MAX_ITERATIONS", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.SurfModel)
	assert.Equal(t, 2048, cfg.RAG.Simple.ChunkSize)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
}

func TestLoad_File(t *testing.T) {
	clearKeys(t)
	path := filepath.Join(t.TempDir(), "planloop.yaml")
	body := `
llm:
  api_key: from-file
  provider: gemini
  planning_model: gemini-2.0-flash
  evaluation_model: gemini-2.0-flash
  surf_model: gemini-2.0-flash
agent:
  max_iterations: 4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.LLM.APIKey)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 4, cfg.Agent.MaxIterations)
}

func TestLoad_MissingAPIKeyFailsFast(t *testing.T) {
	clearKeys(t)

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "llm.api_key")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			LLM: LLMConfig{Provider: "openai", APIKey: "k", PlanningModel: "m", EvaluationModel: "m", SurfModel: "m"},
			Agent: AgentConfig{MaxIterations: 2, SurfMaxIterations: 3},
			RAG: RAGConfig{
				Simple: SimpleRAGConfig{ChunkSize: 100, Overlap: 10},
				Hybrid: HybridRAGConfig{ChunkSize: 100, Overlap: 10},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad provider", func(c *Config) { c.LLM.Provider = "llama" }, "llm.provider"},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, "agent.max_iterations"},
		{"overlap too large", func(c *Config) { c.RAG.Simple.Overlap = 100 }, "rag.simple.chunk_size"},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }, "telegram.token"},
		{"negative retries", func(c *Config) { c.Browser.MaxRetries = -1 }, "browser.max_retries"},
		{"surf model missing", func(c *Config) { c.LLM.SurfModel = "" }, "llm.surf_model"},
		{"all models missing", func(c *Config) {
			c.LLM.PlanningModel, c.LLM.EvaluationModel, c.LLM.SurfModel = "", "", ""
		}, "llm.planning_model"},
		{"evaluation and surf models missing", func(c *Config) {
			c.LLM.EvaluationModel, c.LLM.SurfModel = "", ""
		}, "llm.evaluation_model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Repeated so a nondeterministic check order would show.
			for range 20 {
				c := valid()
				tt.mutate(&c)
				err := c.Validate()
				if tt.key == "" {
					require.NoError(t, err)
					return
				}
				var ce *ConfigurationError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, tt.key, ce.Key)
			}
		})
	}
}
