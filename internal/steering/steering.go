// Package steering implements abort-and-redirect for an in-flight team
// (spec.md §4.8): cancel each target's current adapter call, announce
// the direction change in group chat under a synthetic identity, then
// send every target a structured redirect prompt. Grounded on
// internal/orchestrator/executor.Executor's Stop() path (cancel plus
// status update), generalized to also push a new prompt.
package steering

import (
	"context"
	"fmt"
	"sync"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/state"
)

// OrchestratorIdentity is the synthetic sender of a steering announcement.
const OrchestratorIdentity = "orchestrator"

// OrchestratorRole is the synthetic sender role of a steering announcement.
const OrchestratorRole = "Orchestrator"

// Sender is the adapter surface needed to cancel and redirect agents.
type Sender interface {
	CancelTeam(ids []string) []string
	Send(ctx context.Context, teamID, agentID, text string) (string, *apperrors.AppError)
}

// Bus is the Message Bus surface needed to announce the redirect.
type Bus interface {
	GroupPost(teamID, senderID, senderRole, text string)
}

// Store is the state.Store surface needed to resolve a team's roster.
type Store interface {
	ListAgents(teamID string) ([]*state.Agent, *apperrors.AppError)
}

// Result is the outcome of one steer_team call.
type Result struct {
	Aborted []string
	Steered []string
	Failed  []string
}

// Steering performs abort-and-redirect.
type Steering struct {
	store   Store
	bus     Bus
	adapter Sender
}

func New(store Store, bus Bus, adapter Sender) *Steering {
	return &Steering{store: store, bus: bus, adapter: adapter}
}

// Steer cancels subset (or every team member if empty), announces the
// directive in group chat, then redirects every target concurrently.
func (s *Steering) Steer(ctx context.Context, teamID, directive string, subset []string) (Result, *apperrors.AppError) {
	targets := subset
	if len(targets) == 0 {
		agents, aerr := s.store.ListAgents(teamID)
		if aerr != nil {
			return Result{}, aerr
		}
		targets = make([]string, 0, len(agents))
		for _, a := range agents {
			targets = append(targets, a.ID)
		}
	}
	if len(targets) == 0 {
		return Result{}, apperrors.InvalidArgument("steer target set is empty")
	}

	aborted := s.adapter.CancelTeam(targets)

	s.bus.GroupPost(teamID, OrchestratorIdentity, OrchestratorRole,
		fmt.Sprintf("Direction change: %s", directive))

	prompt := fmt.Sprintf(
		"The orchestrator has issued a new direction:\n\n%s\n\nConsult group chat for full context before continuing.",
		directive)

	var mu sync.Mutex
	var steered, failed []string
	var wg sync.WaitGroup
	for _, id := range targets {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.adapter.Send(ctx, teamID, id, prompt)
			mu.Lock()
			if err != nil {
				failed = append(failed, id)
			} else {
				steered = append(steered, id)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return Result{Aborted: aborted, Steered: steered, Failed: failed}, nil
}
