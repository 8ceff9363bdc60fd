package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/models"
)

func testMember(t *testing.T, name, description string, model *mockModel) *Agent {
	t.Helper()
	cfg := &config.AgentConfig{Model: "main", Description: description}
	cfg.SetDefaults()
	a, err := New(name, "petrel", cfg, Dependencies{Model: model})
	require.NoError(t, err)
	return a
}

func testTeam(t *testing.T, cfg *config.TeamConfig, leader *mockModel, members ...*Agent) *Team {
	t.Helper()
	cfg.SetDefaults()
	team, err := NewTeam("squad", cfg, leader, members)
	require.NoError(t, err)
	return team
}

func TestTeamRoute(t *testing.T) {
	weatherModel := &mockModel{responses: []*models.Response{textResponse("sunny, 22C")}}
	weather := testMember(t, "weather", "Answers weather questions", weatherModel)
	news := testMember(t, "news", "Summarizes the news", &mockModel{})

	leader := &mockModel{responses: []*models.Response{{Text: `{"member": "weather"}`}}}
	team := testTeam(t, &config.TeamConfig{Model: "main", Mode: config.TeamModeRoute,
		Members: []string{"weather", "news"}}, leader, weather, news)

	output, err := team.Run(context.Background(), &RunInput{Input: "forecast for tomorrow?"})
	require.NoError(t, err)
	assert.Equal(t, "sunny, 22C", output.Content)

	// The router saw both members and used structured output.
	require.Len(t, leader.requests, 1)
	system := leader.requests[0].Messages[0].Text()
	assert.Contains(t, system, "weather: Answers weather questions")
	assert.Contains(t, system, "news: Summarizes the news")
	require.NotNil(t, leader.requests[0].Output)

	// The chosen member got the original input.
	assert.Equal(t, "forecast for tomorrow?", weatherModel.requests[0].Messages[1].Text())
}

func TestTeamRouteUnknownMember(t *testing.T) {
	leader := &mockModel{responses: []*models.Response{{Text: `{"member": "nobody"}`}}}
	team := testTeam(t, &config.TeamConfig{Model: "main", Mode: config.TeamModeRoute,
		Members: []string{"weather"}}, leader,
		testMember(t, "weather", "", &mockModel{}))

	_, err := team.Run(context.Background(), &RunInput{Input: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nobody")
}

func TestTeamCoordinate(t *testing.T) {
	memberModel := &mockModel{responses: []*models.Response{textResponse("three key facts")}}
	research := testMember(t, "research", "Finds facts", memberModel)

	leader := &mockModel{responses: []*models.Response{
		toolCallResponse(delegateToolName, map[string]any{
			"member": "research", "task": "find facts about otters",
		}),
		textResponse("final synthesis"),
	}}
	team := testTeam(t, &config.TeamConfig{Model: "main",
		Members: []string{"research"}}, leader, research)

	output, err := team.Run(context.Background(), &RunInput{Input: "write about otters"})
	require.NoError(t, err)
	assert.Equal(t, "final synthesis", output.Content)

	// The member ran the delegated subtask, not the original input.
	assert.Equal(t, "find facts about otters", memberModel.requests[0].Messages[1].Text())

	// The member's answer went back to the leader as a tool result.
	msgs := leader.requests[1].Messages
	last := msgs[len(msgs)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "three key facts", last.ToolResults[0].Content)

	// The leader was offered exactly the delegate tool.
	require.Len(t, leader.requests[0].Tools, 1)
	assert.Equal(t, delegateToolName, leader.requests[0].Tools[0].Name)
}

func TestTeamCoordinateUnknownMember(t *testing.T) {
	leader := &mockModel{responses: []*models.Response{
		toolCallResponse(delegateToolName, map[string]any{
			"member": "ghost", "task": "boo",
		}),
		textResponse("handled it myself"),
	}}
	team := testTeam(t, &config.TeamConfig{Model: "main",
		Members: []string{"research"}}, leader,
		testMember(t, "research", "", &mockModel{}))

	output, err := team.Run(context.Background(), &RunInput{Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "handled it myself", output.Content)

	msgs := leader.requests[1].Messages
	last := msgs[len(msgs)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
}

func TestNewTeamValidation(t *testing.T) {
	_, err := NewTeam("t", &config.TeamConfig{}, nil, nil)
	require.Error(t, err)

	_, err = NewTeam("t", &config.TeamConfig{}, &mockModel{}, nil)
	require.Error(t, err)
}
