// Package dispatch implements the Dispatcher (spec.md §4.6): create a
// team, fan out one adapter call per agent, run to completion, then
// unconditionally tear the team down regardless of outcome. Grounded
// on internal/orchestrator/executor.Executor's fan-out-then-report
// shape.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/logging"
	"github.com/kandev/agentorch/internal/state"
)

// PerCallTimeout bounds each agent's dispatched call.
const PerCallTimeout = 30 * time.Minute

// Sender is the adapter surface the Dispatcher needs.
type Sender interface {
	Send(ctx context.Context, teamID, agentID, text string) (string, *apperrors.AppError)
}

// Bus is the Message Bus surface needed to purge a dissolved team.
type Bus interface {
	DissolveTeam(teamID string, agentIDs []string)
}

// Spec is one agent's configuration plus its initial task text.
type Spec struct {
	Config state.AgentConfig
	Task   string
}

// Result is one agent's dispatch outcome.
type Result struct {
	AgentID string
	Output  string
	Err     *apperrors.AppError
}

// Dispatcher runs a parallel fan-out-to-completion and always tears the
// team down afterward.
type Dispatcher struct {
	store   *state.Store
	bus     Bus
	adapter Sender
	log     *logging.Logger
}

func New(store *state.Store, bus Bus, adapter Sender, log *logging.Logger) *Dispatcher {
	return &Dispatcher{store: store, bus: bus, adapter: adapter, log: log.WithFields(zap.String("component", "dispatch"))}
}

// Dispatch creates a team from specs, calls every agent concurrently
// with its task text under PerCallTimeout, then destroys the team via
// both the State Store and Message Bus regardless of outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, teamName, workDir string, specs []Spec) []Result {
	team := d.store.CreateTeam(teamName, nil, workDir)

	type job struct {
		agentID string
		task    string
	}
	jobs := make([]job, 0, len(specs))
	agentIDs := make([]string, 0, len(specs))
	for _, s := range specs {
		cfg := s.Config
		if cfg.WorkingDir == "" {
			cfg.WorkingDir = workDir
		}
		agent, aerr := d.store.AddAgent(team.ID, cfg)
		if aerr != nil {
			// Team vanished underneath us; nothing left to dispatch to.
			continue
		}
		jobs = append(jobs, job{agentID: agent.ID, task: s.Task})
		agentIDs = append(agentIDs, agent.ID)
	}

	results := make([]Result, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		i, j := i, j
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, PerCallTimeout)
			defer cancel()
			out, err := d.adapter.Send(callCtx, team.ID, j.agentID, j.task)
			results[i] = Result{AgentID: j.agentID, Output: out, Err: err}
		}()
	}
	wg.Wait()

	d.teardown(team.ID, agentIDs)
	return results
}

func (d *Dispatcher) teardown(teamID string, agentIDs []string) {
	if _, err := d.store.DissolveTeam(teamID); err != nil {
		d.log.Warn("dispatch teardown: team already gone", zap.String("team", teamID))
	}
	d.bus.DissolveTeam(teamID, agentIDs)
}
