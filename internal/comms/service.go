// Package comms implements the Comms Service (spec.md §4.9, §6.2): a
// loopback-bound HTTP surface the downstream child calls back into,
// identity-bound per session so a request can never act as an agent
// other than the one that completed the handshake. Grounded on
// internal/agent/api's handler/router split and narrow-interface
// dependency style.
package comms

import (
	"time"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/bus"
	"github.com/kandev/agentorch/internal/state"
)

const (
	MaxMessageLen = 50_000
	MaxShareLen   = 100_000
)

// Tokens is the identity.Store surface the Comms Service verifies
// handshakes against.
type Tokens interface {
	Verify(agentID, token string) bool
}

// Store is the state.Store surface the Comms Service reads.
type Store interface {
	GetAgent(teamID, agentID string) (*state.Team, *state.Agent, *apperrors.AppError)
	ListTeams() []*state.Team
}

// Bus is the Message Bus surface the Comms Service forwards to.
type Bus interface {
	GroupPost(teamID, senderID, senderRole, text string)
	GroupRead(teamID, reader string) []bus.Message
	GroupPeek(teamID, reader string) int
	DMSend(from, fromRole, to, text string) *apperrors.AppError
	DMRead(reader, from string) []bus.Message
	DMPeek(reader string) int
	LeadPost(senderID, senderRole, text string)
	LeadRead(reader string) []bus.Message
	LeadPeek(reader string) int
	Share(teamID, senderID, text string)
	GetShared(teamID string) []bus.Artifact
	Wait(teamID, agent string, isLead bool, timeout time.Duration) bus.WaitResult
}

// Service is the Comms Service's business logic, independent of gin so
// it can be unit tested without standing up an HTTP server.
type Service struct {
	store    Store
	bus      Bus
	tokens   Tokens
	sessions *sessionRegistry
}

func New(store Store, b Bus, tokens Tokens) *Service {
	return &Service{store: store, bus: b, tokens: tokens, sessions: newSessionRegistry()}
}

// Handshake validates an agent id + token pair and mints a session. The
// adapter's mcp_servers URL (spec.md §6.2) carries only agent+token, no
// team, so the agent is resolved across every live team the same way
// findAgentAnyTeam resolves a DM target.
func (s *Service) Handshake(agentID, token string) (sessionID string, aerr *apperrors.AppError) {
	if agentID == "" || token == "" {
		return "", apperrors.Unauthenticated("agent id and token are required")
	}
	if !s.tokens.Verify(agentID, token) {
		return "", apperrors.Forbidden("token does not match agent")
	}
	team, _, err := s.findAgentAnyTeam(agentID)
	if err != nil {
		return "", err
	}
	return s.sessions.create(agentID, team.ID), nil
}

func (s *Service) resolve(sessionID string) (*state.Team, *state.Agent, *apperrors.AppError) {
	bound, ok := s.sessions.resolve(sessionID)
	if !ok {
		return nil, nil, apperrors.Unauthenticated("unknown session")
	}
	return s.store.GetAgent(bound.TeamID, bound.AgentID)
}

func clampText(text string, max int) (string, *apperrors.AppError) {
	if len(text) > max {
		return "", apperrors.InvalidArgument("payload exceeds maximum length")
	}
	return text, nil
}

func (s *Service) GroupPost(sessionID, text string) *apperrors.AppError {
	team, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return aerr
	}
	if _, aerr := clampText(text, MaxMessageLen); aerr != nil {
		return aerr
	}
	s.bus.GroupPost(team.ID, agent.ID, agent.Role, text)
	return nil
}

func (s *Service) GroupRead(sessionID string) ([]bus.Message, *apperrors.AppError) {
	team, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return nil, aerr
	}
	return s.bus.GroupRead(team.ID, agent.ID), nil
}

func (s *Service) GroupPeek(sessionID string) (int, *apperrors.AppError) {
	team, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return 0, aerr
	}
	return s.bus.GroupPeek(team.ID, agent.ID), nil
}

// DMSend allows same-team DMs, or cross-team DMs when both parties are
// leads (spec.md §4.9).
func (s *Service) DMSend(sessionID, to, text string) *apperrors.AppError {
	team, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return aerr
	}
	if _, aerr := clampText(text, MaxMessageLen); aerr != nil {
		return aerr
	}

	_, recipient, err := s.findAgentAnyTeam(to)
	if err != nil {
		return err
	}

	sameTeam := recipient != nil && s.agentOnTeam(team.ID, to)
	bothLeads := agent.Lead && recipient != nil && recipient.Lead
	if !sameTeam && !bothLeads {
		return apperrors.Unauthorized("dm requires same team, or both participants to be leads")
	}

	return s.bus.DMSend(agent.ID, agent.Role, to, text)
}

func (s *Service) DMRead(sessionID, from string) ([]bus.Message, *apperrors.AppError) {
	_, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return nil, aerr
	}
	return s.bus.DMRead(agent.ID, from), nil
}

func (s *Service) DMPeek(sessionID string) (int, *apperrors.AppError) {
	_, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return 0, aerr
	}
	return s.bus.DMPeek(agent.ID), nil
}

func (s *Service) LeadPost(sessionID, teamName, text string) *apperrors.AppError {
	_, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return aerr
	}
	if !agent.Lead {
		return apperrors.Unauthorized("lead channel requires lead flag")
	}
	if _, aerr := clampText(text, MaxMessageLen); aerr != nil {
		return aerr
	}
	s.bus.LeadPost(agent.ID, agent.Role, "["+teamName+"] "+text)
	return nil
}

func (s *Service) LeadRead(sessionID string) ([]bus.Message, *apperrors.AppError) {
	_, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return nil, aerr
	}
	if !agent.Lead {
		return nil, apperrors.Unauthorized("lead channel requires lead flag")
	}
	return s.bus.LeadRead(agent.ID), nil
}

func (s *Service) LeadPeek(sessionID string) (int, *apperrors.AppError) {
	_, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return 0, aerr
	}
	if !agent.Lead {
		return 0, apperrors.Unauthorized("lead channel requires lead flag")
	}
	return s.bus.LeadPeek(agent.ID), nil
}

func (s *Service) Share(sessionID, text string) *apperrors.AppError {
	team, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return aerr
	}
	if _, aerr := clampText(text, MaxShareLen); aerr != nil {
		return aerr
	}
	s.bus.Share(team.ID, agent.ID, text)
	return nil
}

func (s *Service) GetShared(sessionID string) ([]bus.Artifact, *apperrors.AppError) {
	team, _, aerr := s.resolve(sessionID)
	if aerr != nil {
		return nil, aerr
	}
	return s.bus.GetShared(team.ID), nil
}

func (s *Service) Wait(sessionID string, timeout time.Duration) (bus.WaitResult, *apperrors.AppError) {
	team, agent, aerr := s.resolve(sessionID)
	if aerr != nil {
		return bus.WaitResult{}, aerr
	}
	return s.bus.Wait(team.ID, agent.ID, agent.Lead, timeout), nil
}

func (s *Service) findAgentAnyTeam(agentID string) (*state.Team, *state.Agent, *apperrors.AppError) {
	for _, t := range s.store.ListTeams() {
		if a, ok := t.Agents[agentID]; ok {
			return t, a, nil
		}
	}
	return nil, nil, apperrors.NotFound("agent", agentID)
}

func (s *Service) agentOnTeam(teamID, agentID string) bool {
	_, _, err := s.store.GetAgent(teamID, agentID)
	return err == nil
}
