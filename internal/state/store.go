package state

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/agentorch/internal/apperrors"
)

// Store is the single in-memory state store for all teams, agents, and
// tasks. One coarse mutex guards the teams map, matching the teacher's
// single-mutex in-memory repository shape (internal/task/repository).
type Store struct {
	mu    sync.RWMutex
	teams map[string]*Team
}

// New creates an empty Store.
func New() *Store {
	return &Store{teams: make(map[string]*Team)}
}

func newAgentID(role string) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively fatal elsewhere in the
		// stdlib too; fall back to a uuid-derived tail rather than panic.
		return fmt.Sprintf("%s-%s", role, uuid.NewString()[:12])
	}
	return fmt.Sprintf("%s-%s", role, hex.EncodeToString(buf))
}

func newAgent(cfg AgentConfig, inheritedWorkingDir string) *Agent {
	cfg = cfg.applyDefaults(inheritedWorkingDir)
	return &Agent{
		ID:              newAgentID(cfg.Role),
		Role:            cfg.Role,
		Specialization:  cfg.Specialization,
		Model:           cfg.Model,
		Sandbox:         cfg.Sandbox,
		Approval:        cfg.Approval,
		ReasoningEffort: cfg.ReasoningEffort,
		Lead:            cfg.Lead,
		WorkingDir:      cfg.WorkingDir,
		Addendum:        cfg.Addendum,
		Status:          AgentIdle,
		OwnedTasks:      []string{},
	}
}

// CreateTeam constructs a team with the given agent configs, applying
// defaults and minting unique agent ids.
func (s *Store) CreateTeam(name string, configs []AgentConfig, inheritedWorkingDir string) *Team {
	s.mu.Lock()
	defer s.mu.Unlock()

	team := &Team{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now(),
		Agents:    make(map[string]*Agent),
		Tasks:     make(map[string]*Task),
	}
	for _, cfg := range configs {
		a := newAgent(cfg, inheritedWorkingDir)
		for s.agentIDTakenLocked(a.ID) || team.Agents[a.ID] != nil {
			a.ID = newAgentID(cfg.Role)
		}
		team.Agents[a.ID] = a
	}
	s.teams[team.ID] = team
	return team
}

func (s *Store) agentIDTakenLocked(id string) bool {
	for _, t := range s.teams {
		if _, ok := t.Agents[id]; ok {
			return true
		}
	}
	return false
}

// GetTeam returns the team, or not_found.
func (s *Store) GetTeam(teamID string) (*Team, *apperrors.AppError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[teamID]
	if !ok {
		return nil, apperrors.NotFound("team", teamID)
	}
	return t, nil
}

// GetAgent returns the agent within a team, or not_found for either.
// Team and agent are looked up under one lock hold, so a dissolved team
// and a missing agent both come back as not_found (spec §9 open
// question: never mirror the "observes a dissolved team mid-check" race).
func (s *Store) GetAgent(teamID, agentID string) (*Team, *Agent, *apperrors.AppError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[teamID]
	if !ok {
		return nil, nil, apperrors.NotFound("team", teamID)
	}
	a, ok := t.Agents[agentID]
	if !ok {
		return nil, nil, apperrors.NotFound("agent", agentID)
	}
	return t, a, nil
}

// AddAgent adds an agent to an existing team.
func (s *Store) AddAgent(teamID string, cfg AgentConfig) (*Agent, *apperrors.AppError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return nil, apperrors.NotFound("team", teamID)
	}
	a := newAgent(cfg, "")
	for s.agentIDTakenLocked(a.ID) {
		a.ID = newAgentID(cfg.Role)
	}
	t.Agents[a.ID] = a
	return a, nil
}

// RemoveAgent removes an agent. Fails with busy if the agent is working
// or still owns tasks.
func (s *Store) RemoveAgent(teamID, agentID string) *apperrors.AppError {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return apperrors.NotFound("team", teamID)
	}
	a, ok := t.Agents[agentID]
	if !ok {
		return apperrors.NotFound("agent", agentID)
	}
	if a.Status == AgentWorking || len(a.OwnedTasks) > 0 {
		return apperrors.Busy(fmt.Sprintf("agent %q is busy", agentID))
	}
	delete(t.Agents, agentID)
	return nil
}

// CreateTask creates a task owned by team, assigned to assignee, with the
// given prerequisite task ids (which must belong to the same team).
func (s *Store) CreateTask(teamID, assignee, description string, prerequisites []string) (*Task, *apperrors.AppError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return nil, apperrors.NotFound("team", teamID)
	}
	if _, ok := t.Agents[assignee]; !ok {
		return nil, apperrors.NotFound("agent", assignee)
	}
	for _, pre := range prerequisites {
		if _, ok := t.Tasks[pre]; !ok {
			return nil, apperrors.NotFound("task", pre)
		}
	}

	task := &Task{
		ID:            uuid.NewString(),
		TeamID:        teamID,
		Description:   description,
		Status:        TaskPending,
		Assignee:      assignee,
		Prerequisites: append([]string(nil), prerequisites...),
		CreatedAt:     time.Now(),
	}
	t.Tasks[task.ID] = task
	t.Agents[assignee].OwnedTasks = append(t.Agents[assignee].OwnedTasks, task.ID)
	return task, nil
}

// StartTask transitions a pending task to in-progress.
func (s *Store) StartTask(teamID, taskID string) *apperrors.AppError {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return apperrors.NotFound("team", teamID)
	}
	task, ok := t.Tasks[taskID]
	if !ok {
		return apperrors.NotFound("task", taskID)
	}
	if task.Status != TaskPending {
		return apperrors.InvalidArgument("task is not pending")
	}
	task.Status = TaskInProgress
	return nil
}

// RevertTaskToPending reverts an in-progress task back to pending, used
// when an auto-start adapter call fails synchronously.
func (s *Store) RevertTaskToPending(teamID, taskID string) *apperrors.AppError {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return apperrors.NotFound("team", teamID)
	}
	task, ok := t.Tasks[taskID]
	if !ok {
		return apperrors.NotFound("task", taskID)
	}
	if task.Status == TaskInProgress {
		task.Status = TaskPending
	}
	return nil
}

// CompleteTask marks a task completed and returns the ids of tasks that
// are now unblocked: still pending, and every prerequisite completed.
func (s *Store) CompleteTask(teamID, taskID, result string) ([]string, *apperrors.AppError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return nil, apperrors.NotFound("team", teamID)
	}
	task, ok := t.Tasks[taskID]
	if !ok {
		return nil, apperrors.NotFound("task", taskID)
	}

	now := time.Now()
	task.Status = TaskCompleted
	task.Result = result
	task.CompletedAt = &now

	if assignee, ok := t.Agents[task.Assignee]; ok {
		assignee.OwnedTasks = removeID(assignee.OwnedTasks, taskID)
	}

	var unblocked []string
	for _, other := range t.Tasks {
		if other.Status != TaskPending {
			continue
		}
		if !containsID(other.Prerequisites, taskID) {
			continue
		}
		if s.allPrereqsCompletedLocked(t, other) {
			unblocked = append(unblocked, other.ID)
		}
	}
	return unblocked, nil
}

func (s *Store) allPrereqsCompletedLocked(t *Team, task *Task) bool {
	for _, pre := range task.Prerequisites {
		p, ok := t.Tasks[pre]
		if !ok || p.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// DissolveTeam removes the team and returns it (for the caller to notify
// the Message Bus with the member agent ids).
func (s *Store) DissolveTeam(teamID string) (*Team, *apperrors.AppError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return nil, apperrors.NotFound("team", teamID)
	}
	delete(s.teams, teamID)
	return t, nil
}

// SetAgentStatus updates an agent's runtime status.
func (s *Store) SetAgentStatus(teamID, agentID string, status AgentStatus) *apperrors.AppError {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return apperrors.NotFound("team", teamID)
	}
	a, ok := t.Agents[agentID]
	if !ok {
		return apperrors.NotFound("agent", agentID)
	}
	a.Status = status
	return nil
}

// SetAgentOutput updates an agent's last output and continuation handle.
func (s *Store) SetAgentOutput(teamID, agentID, continuation, output string) *apperrors.AppError {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return apperrors.NotFound("team", teamID)
	}
	a, ok := t.Agents[agentID]
	if !ok {
		return apperrors.NotFound("agent", agentID)
	}
	a.Continuation = continuation
	a.LastOutput = output
	return nil
}

// ClearContinuation forgets an agent's continuation handle so its next
// adapter call starts fresh, per the missing-continuation recovery path
// in spec.md §4.4/§9.
func (s *Store) ClearContinuation(teamID, agentID string) *apperrors.AppError {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return apperrors.NotFound("team", teamID)
	}
	a, ok := t.Agents[agentID]
	if !ok {
		return apperrors.NotFound("agent", agentID)
	}
	a.Continuation = ""
	return nil
}

// GetTask returns a single task within a team, or not_found for either.
func (s *Store) GetTask(teamID, taskID string) (*Task, *apperrors.AppError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[teamID]
	if !ok {
		return nil, apperrors.NotFound("team", teamID)
	}
	task, ok := t.Tasks[taskID]
	if !ok {
		return nil, apperrors.NotFound("task", taskID)
	}
	return task, nil
}

// ListAgents returns a snapshot slice of a team's agents.
func (s *Store) ListAgents(teamID string) ([]*Agent, *apperrors.AppError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[teamID]
	if !ok {
		return nil, apperrors.NotFound("team", teamID)
	}
	out := make([]*Agent, 0, len(t.Agents))
	for _, a := range t.Agents {
		out = append(out, a)
	}
	return out, nil
}

// ListTeams returns a snapshot of all live teams.
func (s *Store) ListTeams() []*Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, t)
	}
	return out
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func containsID(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
