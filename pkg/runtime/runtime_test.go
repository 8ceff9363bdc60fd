package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelhq/petrel/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Models: map[string]*config.ModelConfig{
			"gpt": {Provider: "openai", Model: "gpt-4o-mini", APIKey: "test-key"},
		},
		Tools: map[string]*config.ToolConfig{
			"calculator": {Type: "calculator"},
		},
		Storage: map[string]*config.StorageConfig{
			"main": {Driver: "memory"},
		},
		Agents: map[string]*config.AgentConfig{
			"helper": {
				Name:    "helper",
				Model:   "gpt",
				Tools:   []string{"calculator"},
				Storage: "main",
			},
			"writer": {
				Name:  "writer",
				Model: "gpt",
			},
		},
		Teams: map[string]*config.TeamConfig{
			"duo": {
				Name:    "duo",
				Model:   "gpt",
				Members: []string{"helper", "writer"},
			},
		},
		Workflows: map[string]*config.WorkflowConfig{
			"pipeline": {
				Name: "pipeline",
				Steps: []*config.WorkflowStepConfig{
					{Name: "draft", Agent: "writer"},
					{Name: "check", Agent: "helper"},
				},
			},
		},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewBuildsEverything(t *testing.T) {
	rt, err := New(testConfig(t))
	require.NoError(t, err)
	defer rt.Close()

	_, ok := rt.Models().Get("gpt")
	assert.True(t, ok)

	_, ok = rt.Agents().Get("helper")
	assert.True(t, ok)
	_, ok = rt.Agents().Get("duo")
	assert.True(t, ok)

	wf, ok := rt.Workflows().Get("pipeline")
	require.True(t, ok)
	assert.Equal(t, "pipeline", wf.Name())

	svc, ok := rt.Storage("main")
	assert.True(t, ok)
	assert.NotNil(t, svc)
	assert.NotNil(t, rt.SessionStorage())
}

func TestNewUnknownTeamMember(t *testing.T) {
	cfg := testConfig(t)
	cfg.Teams["duo"].Members = append(cfg.Teams["duo"].Members, "ghost")

	_, err := New(cfg)
	assert.ErrorContains(t, err, `unknown member "ghost"`)
}

func TestNewUnknownModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agents["helper"].Model = "missing"

	_, err := New(cfg)
	assert.Error(t, err)
}
