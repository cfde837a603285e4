// Package instructions builds the per-agent system prompt handed to the
// downstream child on its first ("start") call. Compose is a pure
// function of its inputs so the same team shape always yields the same
// prompt text — exercised directly by the determinism property in
// spec.md §8.
package instructions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kandev/agentorch/internal/state"
)

// OtherTeam is the public roster snapshot of a team other than the
// agent's own, shown only to leads.
type OtherTeam struct {
	Name    string
	Members []TeammateView
}

// TeammateView is what a prompt reveals about one teammate (or, in an
// OtherTeam, about another team's member).
type TeammateView struct {
	ID             string
	Role           string
	Specialization string
	Lead           bool
}

const behaviouralPolicy = `Behave as a disciplined member of a multi-agent team. Use the
comms tools below to coordinate instead of guessing at teammates' progress. Never
fabricate the result of an operation you have not actually performed. Keep
messages factual and short; prefer the shared artifact log over group chat for
large outputs.`

const operationsList = `Available agent-facing operations (Comms Service):
- group_post / group_read / group_peek — team group chat.
- dm_send / dm_read / dm_peek — direct messages (same-team, or lead-to-lead across teams).
- lead_post / lead_read / lead_peek — cross-team lead channel (leads only).
- share / get_shared — the team's append-only shared artifact log.
- get_team_context — your roster and other teams' public rosters.
- wait — block until new chat, DMs, or lead traffic arrive, or your team dissolves.`

// Compose builds the system prompt for agent within team, given the
// roster (including the agent itself) and, for leads, a snapshot of
// other teams' public rosters. If team is nil the composer has nothing
// to describe and falls back to the bare addendum, per spec.md §4.3.
func Compose(agent *state.Agent, team *state.Team, otherTeams []OtherTeam) string {
	if team == nil {
		return agent.Addendum
	}

	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, role %q", agent.ID, agent.Role)
	if agent.Specialization != "" {
		fmt.Fprintf(&b, " (%s)", agent.Specialization)
	}
	if agent.Lead {
		b.WriteString(", and you are the lead of this team")
	}
	b.WriteString(".\n\n")

	b.WriteString("Team roster:\n")
	for _, tm := range sortedTeammates(team) {
		marker := "-"
		if tm.ID == agent.ID {
			marker = "- (you)"
		}
		lead := ""
		if tm.Lead {
			lead = ", lead"
		}
		fmt.Fprintf(&b, "%s %s: role %q%s\n", marker, tm.ID, tm.Role, lead)
	}

	if agent.Lead && len(otherTeams) > 0 {
		b.WriteString("\nOther teams currently active:\n")
		for _, ot := range sortedOtherTeams(otherTeams) {
			fmt.Fprintf(&b, "- %s:\n", ot.Name)
			for _, m := range ot.Members {
				lead := ""
				if m.Lead {
					lead = ", lead"
				}
				fmt.Fprintf(&b, "  - %s: role %q%s\n", m.ID, m.Role, lead)
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(operationsList)
	b.WriteString("\n\n")
	b.WriteString(behaviouralPolicy)

	if agent.Addendum != "" {
		b.WriteString("\n\n")
		b.WriteString(agent.Addendum)
	}

	return b.String()
}

func sortedTeammates(team *state.Team) []TeammateView {
	out := make([]TeammateView, 0, len(team.Agents))
	for _, a := range team.Agents {
		out = append(out, TeammateView{ID: a.ID, Role: a.Role, Specialization: a.Specialization, Lead: a.Lead})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedOtherTeams(teams []OtherTeam) []OtherTeam {
	out := append([]OtherTeam(nil), teams...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	for i := range out {
		members := append([]TeammateView(nil), out[i].Members...)
		sort.Slice(members, func(a, b int) bool { return members[a].ID < members[b].ID })
		out[i].Members = members
	}
	return out
}
