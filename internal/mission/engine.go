package mission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/bus"
	"github.com/kandev/agentorch/internal/logging"
	"github.com/kandev/agentorch/internal/state"
)

// Sender is the adapter surface the engine drives agents through.
type Sender interface {
	Send(ctx context.Context, teamID, agentID, text string) (string, *apperrors.AppError)
}

// Store is the state.Store surface the engine needs.
type Store interface {
	CreateTeam(name string, configs []state.AgentConfig, inheritedWorkingDir string) *state.Team
	AddAgent(teamID string, cfg state.AgentConfig) (*state.Agent, *apperrors.AppError)
	DissolveTeam(teamID string) (*state.Team, *apperrors.AppError)
	GetTeam(teamID string) (*state.Team, *apperrors.AppError)
}

// Bus is the Message Bus surface the engine needs, including the
// non-destructive snapshot methods used for post-mortem capture.
type Bus interface {
	GroupSnapshot(teamID string) []bus.Message
	DMSnapshotFor(participantIDs []string) []bus.Message
	LeadSnapshotAuthoredBy(authorIDs []string) []bus.Message
	GetShared(teamID string) []bus.Artifact
	DissolveTeam(teamID string, agentIDs []string)
}

// Engine runs missions asynchronously and tracks their records.
type Engine struct {
	store   Store
	bus     Bus
	adapter Sender
	log     *logging.Logger

	mu       sync.RWMutex
	missions map[string]*Mission
	timers   map[string]*time.Timer
}

func New(store Store, b Bus, adapter Sender, log *logging.Logger) *Engine {
	return &Engine{
		store:    store,
		bus:      b,
		adapter:  adapter,
		log:      log.WithFields(zap.String("component", "mission")),
		missions: make(map[string]*Mission),
		timers:   make(map[string]*time.Timer),
	}
}

// Launch validates specs (exactly one lead), creates the mission's team,
// and starts its executing phase in the background, returning the
// mission id immediately.
func (e *Engine) Launch(ctx context.Context, objective, workDir string, specs []TeamSpec, verifyCmd string, maxRetries int) (string, *apperrors.AppError) {
	leadCount := 0
	for _, s := range specs {
		if s.Lead {
			leadCount++
		}
	}
	if leadCount != 1 {
		return "", apperrors.InvalidArgument("exactly one team spec must be marked lead")
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	missionID := uuid.NewString()
	team := e.store.CreateTeam(fmt.Sprintf("mission-%s", missionID), nil, workDir)

	m := &Mission{
		ID:         missionID,
		Objective:  objective,
		TeamID:     team.ID,
		Phase:      PhaseExecuting,
		Results:    make(map[string]WorkerResult),
		VerifyCmd:  verifyCmd,
		MaxRetries: maxRetries,
	}

	for _, spec := range specs {
		agent, aerr := e.store.AddAgent(team.ID, state.AgentConfig{
			Role: spec.Role, Specialization: spec.Specialization, Model: spec.Model,
			Lead: spec.Lead, ReasoningEffort: state.ReasoningEffort(spec.ReasoningEffort),
			WorkingDir: workDir,
		})
		if aerr != nil {
			continue
		}
		if spec.Lead {
			m.LeadID = agent.ID
		} else {
			m.WorkerIDs = append(m.WorkerIDs, agent.ID)
		}
	}

	e.mu.Lock()
	e.missions[missionID] = m
	e.mu.Unlock()

	// A mission with no lead can never execute; unlike a mid-mission
	// worker/verify failure (absorbed into the completed report), this is
	// a setup-level failure the engine can detect before run() starts, so
	// it is the one path that actually reaches PhaseError.
	if m.LeadID == "" {
		m.mu.Lock()
		m.Phase = PhaseError
		m.Error = "lead agent could not be created for this mission"
		m.mu.Unlock()
		e.finish(m)
		return missionID, nil
	}

	go e.run(context.Background(), m)

	return missionID, nil
}

func (e *Engine) run(ctx context.Context, m *Mission) {
	e.execute(ctx, m)

	for {
		phase := m.view().Phase
		switch phase {
		case PhaseVerifying:
			e.verify(ctx, m)
		case PhaseFixing:
			e.fix(ctx, m)
		case PhaseReviewing:
			e.review(ctx, m)
			return
		case PhaseCompleted, PhaseError:
			return
		default:
			return
		}
	}
}

func (e *Engine) execute(ctx context.Context, m *Mission) {
	leadPrompt := fmt.Sprintf(
		"Mission objective: %s\n\nYou are the lead. Plan the work, delegate to your team, and facilitate until it is done.",
		m.Objective)

	leadCh := make(chan WorkerResult, 1)
	go func() {
		out, err := e.adapter.Send(ctx, m.TeamID, m.LeadID, leadPrompt)
		leadCh <- toResult(out, err)
	}()

	var wg sync.WaitGroup
	for _, workerID := range m.WorkerIDs {
		workerID := workerID
		wg.Add(1)
		go func() {
			defer wg.Done()
			prompt := fmt.Sprintf(
				"Mission objective: %s\n\nExecute your part of this with autonomy. Your teammates: %v.",
				m.Objective, m.WorkerIDs)
			out, err := e.adapter.Send(ctx, m.TeamID, workerID, prompt)
			m.setResult(workerID, toResult(out, err))
		}()
	}
	wg.Wait()

	m.setResult(m.LeadID, <-leadCh)

	if m.VerifyCmd != "" {
		m.setPhase(PhaseVerifying)
	} else {
		m.setPhase(PhaseReviewing)
	}
}

func (e *Engine) verify(ctx context.Context, m *Mission) {
	team, err := e.store.GetTeam(m.TeamID)
	workDir := ""
	if err == nil {
		if lead, ok := team.Agents[m.LeadID]; ok {
			workDir = lead.WorkingDir
		}
	}

	passed, output := runVerify(ctx, m.VerifyCmd, workDir)
	attempt := len(m.view().VerifyLog) + 1
	m.appendVerify(VerifyAttempt{Attempt: attempt, Passed: passed, Output: output})

	if passed {
		m.setPhase(PhaseReviewing)
		return
	}
	if len(m.view().VerifyLog) <= m.MaxRetries {
		m.setPhase(PhaseFixing)
		return
	}
	m.setPhase(PhaseReviewing)
}

func (e *Engine) fix(ctx context.Context, m *Mission) {
	view := m.view()
	lastAttempt := view.VerifyLog[len(view.VerifyLog)-1]

	prompt := fmt.Sprintf(
		"Verification failed:\n\n%s\n\nReturn ONLY a JSON array of {\"agentId\":\"...\",\"task\":\"...\"} assigning fixes to your workers %v. An empty array means no fix is needed.",
		lastAttempt.Output, view.WorkerIDs)

	out, sendErr := e.adapter.Send(ctx, m.TeamID, m.LeadID, prompt)
	if sendErr != nil {
		m.setPhase(PhaseVerifying)
		return
	}

	assignments := parseFixAssignments(out)
	valid := make(map[string]bool, len(view.WorkerIDs))
	for _, id := range view.WorkerIDs {
		valid[id] = true
	}

	var wg sync.WaitGroup
	for _, a := range assignments {
		if !valid[a.AgentID] {
			continue
		}
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.adapter.Send(ctx, m.TeamID, a.AgentID, a.Task)
			m.setResult(a.AgentID, toResult(out, err))
		}()
	}
	wg.Wait()

	m.setPhase(PhaseVerifying)
}

func (e *Engine) review(ctx context.Context, m *Mission) {
	view := m.view()
	prompt := fmt.Sprintf("Compile a final report for mission %q. Worker outcomes: %+v.", m.Objective, view.Results)
	if len(view.VerifyLog) > 0 {
		prompt += fmt.Sprintf(" Final verification: %+v.", view.VerifyLog[len(view.VerifyLog)-1])
	}

	out, sendErr := e.adapter.Send(ctx, m.TeamID, m.LeadID, prompt)

	m.mu.Lock()
	if sendErr != nil {
		m.Error = sendErr.Message
	} else {
		m.FinalReport = out
	}
	m.Phase = PhaseCompleted
	m.mu.Unlock()

	e.finish(m)
}

func (e *Engine) finish(m *Mission) {
	participants := append([]string{m.LeadID}, m.WorkerIDs...)
	snap := &Snapshot{
		Group:     e.bus.GroupSnapshot(m.TeamID),
		DMs:       e.bus.DMSnapshotFor(participants),
		Lead:      e.bus.LeadSnapshotAuthoredBy(participants),
		Artifacts: e.bus.GetShared(m.TeamID),
	}

	m.mu.Lock()
	m.Snapshot = snap
	m.TerminalAt = time.Now()
	m.mu.Unlock()

	e.store.DissolveTeam(m.TeamID)
	e.bus.DissolveTeam(m.TeamID, participants)

	timer := time.AfterFunc(Retention, func() { e.evict(m.ID) })
	e.mu.Lock()
	e.timers[m.ID] = timer
	e.mu.Unlock()
}

func (e *Engine) evict(missionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.missions, missionID)
	delete(e.timers, missionID)
}

func toResult(out string, err *apperrors.AppError) WorkerResult {
	if err != nil {
		return WorkerResult{Status: "error", Output: err.Message}
	}
	return WorkerResult{Status: "success", Output: out}
}

func (e *Engine) get(missionID string) (*Mission, *apperrors.AppError) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.missions[missionID]
	if !ok {
		return nil, apperrors.NotFound("mission", missionID)
	}
	return m, nil
}

// Status returns a mission's current view.
func (e *Engine) Status(missionID string) (View, *apperrors.AppError) {
	m, aerr := e.get(missionID)
	if aerr != nil {
		return View{}, aerr
	}
	return m.view(), nil
}

// Await blocks until the mission reaches a terminal phase, polling
// every poll (default 3s) up to timeout (default 60m). On terminal, the
// record is evicted and the final report/error are returned.
func (e *Engine) Await(ctx context.Context, missionID string, poll, timeout time.Duration) (View, *apperrors.AppError) {
	if poll <= 0 {
		poll = AwaitDefaultPoll
	}
	if timeout <= 0 {
		timeout = AwaitDefaultTimeout
	}

	m, aerr := e.get(missionID)
	if aerr != nil {
		return View{}, aerr
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if m.isTerminal() {
			v := m.view()
			e.mu.Lock()
			delete(e.missions, missionID)
			if t, ok := e.timers[missionID]; ok {
				t.Stop()
				delete(e.timers, missionID)
			}
			e.mu.Unlock()
			return v, nil
		}
		if time.Now().After(deadline) {
			return View{}, apperrors.Timeout("mission did not complete before the await timeout")
		}
		select {
		case <-ctx.Done():
			return View{}, apperrors.Canceled("await_mission canceled")
		case <-ticker.C:
		}
	}
}

// Comms returns the terminal snapshot for a completed mission, failing
// with not_ready if the mission has not yet reached a terminal phase.
func (e *Engine) Comms(missionID string) (*Snapshot, *apperrors.AppError) {
	m, aerr := e.get(missionID)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Phase != PhaseCompleted && m.Phase != PhaseError {
		return nil, apperrors.NotReady("mission has not reached a terminal phase")
	}
	return m.Snapshot, nil
}
