package instructions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentorch/internal/state"
)

func buildTeam() (*state.Team, *state.Agent) {
	s := state.New()
	team := s.CreateTeam("alpha", []state.AgentConfig{
		{Role: "lead", Lead: true, Addendum: "Ship it."},
		{Role: "dev"},
	}, "/work")
	var lead *state.Agent
	for _, a := range team.Agents {
		if a.Lead {
			lead = a
		}
	}
	return team, lead
}

func TestComposeIsDeterministic(t *testing.T) {
	team, lead := buildTeam()
	other := []OtherTeam{{Name: "beta", Members: []TeammateView{{ID: "lead-aaaaaaaaaaaa", Role: "lead", Lead: true}}}}

	first := Compose(lead, team, other)
	second := Compose(lead, team, other)
	assert.Equal(t, first, second)
}

func TestComposeFallsBackToAddendumWhenTeamMissing(t *testing.T) {
	agent := &state.Agent{ID: "x", Addendum: "just be helpful"}
	got := Compose(agent, nil, nil)
	assert.Equal(t, "just be helpful", got)
}

func TestComposeIncludesAddendumAndRoster(t *testing.T) {
	team, lead := buildTeam()
	out := Compose(lead, team, nil)
	require.Contains(t, out, "Ship it.")
	assert.Contains(t, out, lead.ID)
	assert.Contains(t, out, "(you)")
}

func TestComposeOmitsOtherTeamsForNonLeads(t *testing.T) {
	team, _ := buildTeam()
	var dev *state.Agent
	for _, a := range team.Agents {
		if !a.Lead {
			dev = a
		}
	}
	other := []OtherTeam{{Name: "beta"}}
	out := Compose(dev, team, other)
	assert.NotContains(t, out, "Other teams currently active")
}
