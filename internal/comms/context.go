package comms

import (
	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/state"
)

// TeamContext is the response shape for get_team_context (spec.md §4.9):
// the caller's own team plus the public rosters of every other team.
type TeamContext struct {
	TeamName string          `json:"teamName"`
	Self     MemberView      `json:"self"`
	Team     []MemberView    `json:"team"`
	Others   []OtherTeamView `json:"others"`
	Hint     string          `json:"hint"`
}

// MemberView is what a teammate reveals about itself within its own team.
type MemberView struct {
	ID             string   `json:"id"`
	Role           string   `json:"role"`
	Specialization string   `json:"specialization,omitempty"`
	Lead           bool     `json:"lead"`
	Status         string   `json:"status"`
	Tasks          []string `json:"tasks,omitempty"`
}

// OtherTeamView is another team's public roster.
type OtherTeamView struct {
	Name    string       `json:"name"`
	Members []MemberView `json:"members"`
}

const crossTeamHint = "Cross-team coordination happens on the lead channel (lead_post/lead_read/lead_peek), available only to agents with the lead flag."

func (s *Service) GetTeamContext(sessionID string) (TeamContext, *apperrors.AppError) {
	team, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return TeamContext{}, aerr
	}

	var self MemberView
	members := make([]MemberView, 0, len(team.Agents))
	for _, a := range team.Agents {
		view := toMemberView(a)
		members = append(members, view)
		if a.ID == agent.ID {
			self = view
		}
	}

	var others []OtherTeamView
	for _, t := range s.store.ListTeams() {
		if t.ID == team.ID {
			continue
		}
		ot := OtherTeamView{Name: t.Name}
		for _, a := range t.Agents {
			ot.Members = append(ot.Members, toMemberView(a))
		}
		others = append(others, ot)
	}

	return TeamContext{
		TeamName: team.Name,
		Self:     self,
		Team:     members,
		Others:   others,
		Hint:     crossTeamHint,
	}, nil
}

func toMemberView(a *state.Agent) MemberView {
	return MemberView{
		ID: a.ID, Role: a.Role, Specialization: a.Specialization,
		Lead: a.Lead, Status: string(a.Status), Tasks: a.OwnedTasks,
	}
}
