// Package operations implements the operator-facing wrappers over the
// State Store and Agent Adapter (spec.md §4.5): send_message,
// broadcast, relay, assign_task, and complete_task. Grounded on
// internal/orchestrator/executor.Executor's fan-out-with-per-item-error
// shape, generalized from "run a queued task" to "call an agent".
package operations

import (
	"context"
	"fmt"
	"sync"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/state"
)

// Sender is the narrow adapter surface this package depends on.
type Sender interface {
	Send(ctx context.Context, teamID, agentID, text string) (string, *apperrors.AppError)
	Track(fn func())
}

// Store is the narrow state.Store surface this package depends on.
type Store interface {
	GetAgent(teamID, agentID string) (*state.Team, *state.Agent, *apperrors.AppError)
	ListAgents(teamID string) ([]*state.Agent, *apperrors.AppError)
	CreateTask(teamID, assignee, description string, prerequisites []string) (*state.Task, *apperrors.AppError)
	StartTask(teamID, taskID string) *apperrors.AppError
	RevertTaskToPending(teamID, taskID string) *apperrors.AppError
	CompleteTask(teamID, taskID, result string) ([]string, *apperrors.AppError)
	GetTeam(teamID string) (*state.Team, *apperrors.AppError)
}

// Ops bundles the operator-facing operations.
type Ops struct {
	store   Store
	adapter Sender
}

func New(store Store, adapter Sender) *Ops {
	return &Ops{store: store, adapter: adapter}
}

// AgentResult is one agent's outcome within a multi-agent operation.
type AgentResult struct {
	AgentID string
	Output  string
	Err     *apperrors.AppError
}

// SendMessage sends text to a single agent. Fails busy if it is working.
func (o *Ops) SendMessage(ctx context.Context, teamID, agentID, text string) (string, *apperrors.AppError) {
	_, agent, aerr := o.store.GetAgent(teamID, agentID)
	if aerr != nil {
		return "", aerr
	}
	if agent.Status == state.AgentWorking {
		return "", apperrors.Busy(fmt.Sprintf("agent %q is busy", agentID))
	}
	return o.adapter.Send(ctx, teamID, agentID, text)
}

// Broadcast sends text concurrently to the given agents (default: every
// team member), skipping any currently working.
func (o *Ops) Broadcast(ctx context.Context, teamID, text string, subset []string) ([]AgentResult, *apperrors.AppError) {
	agents, aerr := o.store.ListAgents(teamID)
	if aerr != nil {
		return nil, aerr
	}
	targets := resolveTargets(agents, subset)

	var wg sync.WaitGroup
	results := make([]AgentResult, len(targets))
	for i, a := range targets {
		i, a := i, a
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.Status == state.AgentWorking {
				results[i] = AgentResult{AgentID: a.ID, Err: apperrors.Busy("agent is busy")}
				return
			}
			out, err := o.adapter.Send(ctx, teamID, a.ID, text)
			results[i] = AgentResult{AgentID: a.ID, Output: out, Err: err}
		}()
	}
	wg.Wait()
	return results, nil
}

// Relay forwards from's last output (optionally prefixed) to one agent
// (to) or every other non-working agent (toAll).
func (o *Ops) Relay(ctx context.Context, teamID, from, to string, toAll bool, prefix string) ([]AgentResult, *apperrors.AppError) {
	_, src, aerr := o.store.GetAgent(teamID, from)
	if aerr != nil {
		return nil, aerr
	}
	if src.LastOutput == "" {
		return nil, apperrors.InvalidArgument("source agent has no output to relay")
	}
	if !toAll && to == "" {
		return nil, apperrors.InvalidArgument("relay requires a destination or to_all")
	}

	text := src.LastOutput
	if prefix != "" {
		text = prefix + text
	}

	if !toAll {
		out, err := o.adapter.Send(ctx, teamID, to, text)
		return []AgentResult{{AgentID: to, Output: out, Err: err}}, nil
	}

	agents, aerr := o.store.ListAgents(teamID)
	if aerr != nil {
		return nil, aerr
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []AgentResult
	for _, a := range agents {
		if a.ID == from || a.Status == state.AgentWorking {
			continue
		}
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := o.adapter.Send(ctx, teamID, a.ID, text)
			mu.Lock()
			results = append(results, AgentResult{AgentID: a.ID, Output: out, Err: err})
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results, nil
}

// AssignTask creates a task; if its prerequisites are already satisfied
// and the assignee is idle, it starts the task and fires the adapter
// call synchronously, reverting to pending if that call fails.
func (o *Ops) AssignTask(ctx context.Context, teamID, assignee, description string, prerequisites []string) (*state.Task, *apperrors.AppError) {
	task, aerr := o.store.CreateTask(teamID, assignee, description, prerequisites)
	if aerr != nil {
		return nil, aerr
	}

	_, agent, aerr := o.store.GetAgent(teamID, assignee)
	if aerr != nil {
		return task, nil
	}
	if agent.Status != state.AgentIdle {
		return task, nil
	}

	if serr := o.store.StartTask(teamID, task.ID); serr != nil {
		return task, nil
	}
	task.Status = state.TaskInProgress

	if _, sendErr := o.adapter.Send(ctx, teamID, assignee, description); sendErr != nil {
		_ = o.store.RevertTaskToPending(teamID, task.ID)
		task.Status = state.TaskPending
	}
	return task, nil
}

// CompleteTask marks a task completed and, for each newly-unblocked task
// whose assignee is idle, starts it and fires its adapter call in the
// background (tracked so shutdown can await it), reverting to pending
// on failure.
func (o *Ops) CompleteTask(ctx context.Context, teamID, taskID, result string) ([]string, *apperrors.AppError) {
	unblocked, aerr := o.store.CompleteTask(teamID, taskID, result)
	if aerr != nil {
		return nil, aerr
	}

	team, terr := o.store.GetTeam(teamID)
	if terr != nil {
		return unblocked, nil
	}

	for _, utID := range unblocked {
		task, ok := team.Tasks[utID]
		if !ok {
			continue
		}
		agent, ok := team.Agents[task.Assignee]
		if !ok || agent.Status != state.AgentIdle {
			continue
		}
		if o.store.StartTask(teamID, utID) != nil {
			continue
		}

		assignee, description := task.Assignee, task.Description
		o.adapter.Track(func() {
			if _, err := o.adapter.Send(ctx, teamID, assignee, description); err != nil {
				_ = o.store.RevertTaskToPending(teamID, utID)
			}
		})
	}
	return unblocked, nil
}

func resolveTargets(agents []*state.Agent, subset []string) []*state.Agent {
	if len(subset) == 0 {
		return agents
	}
	want := make(map[string]bool, len(subset))
	for _, id := range subset {
		want[id] = true
	}
	var out []*state.Agent
	for _, a := range agents {
		if want[a.ID] {
			out = append(out, a)
		}
	}
	return out
}
