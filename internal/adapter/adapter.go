// Package adapter implements the Agent Adapter (spec.md §4.4): a single
// downstream child process, multiplexed across every agent, with
// per-agent call serialization (the "agent lock"), continuation
// lifecycle, cancellation, and coalesced reconnect. It is grounded on
// pkg/acp/jsonrpc.Client's stdio transport shape and on
// internal/agent/lifecycle.Manager's tracked-instance bookkeeping, bent
// to a single long-lived child instead of per-task containers.
package adapter

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/childproto"
	"github.com/kandev/agentorch/internal/instructions"
	"github.com/kandev/agentorch/internal/logging"
	"github.com/kandev/agentorch/internal/state"
)

// CallDeadline bounds a single send; ~3 hours per spec.md §4.4.
const CallDeadline = 3 * time.Hour

// TeamContext is the narrow slice of state.Store the adapter needs to
// compose a lead's "other teams" snapshot, accepted as an interface so
// tests can fake it without a real Store.
type TeamContext interface {
	GetAgent(teamID, agentID string) (*state.Team, *state.Agent, *apperrors.AppError)
	ListTeams() []*state.Team
	SetAgentStatus(teamID, agentID string, status state.AgentStatus) *apperrors.AppError
	SetAgentOutput(teamID, agentID, continuation, output string) *apperrors.AppError
	ClearContinuation(teamID, agentID string) *apperrors.AppError
}

// Launcher starts the downstream child process and returns its stdio
// pipes. Split out as an interface so tests can substitute an in-memory
// pipe pair instead of a real subprocess.
type Launcher interface {
	Launch(ctx context.Context) (stdin io.WriteCloser, stdout io.ReadCloser, wait func() error, err error)
}

// ProcessLauncher launches command/args as a real child process.
type ProcessLauncher struct {
	Command string
	Args    []string
}

func (p ProcessLauncher) Launch(ctx context.Context) (io.WriteCloser, io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("start downstream: %w", err)
	}
	return stdin, stdout, cmd.Wait, nil
}

// MCPURLBuilder builds the Comms Service URL embedded in a start call's
// mcp_servers entry, with the agent id and identity token in the query.
type MCPURLBuilder func(agentID, token string) string

// TokenIssuer mints the per-agent identity token embedded in start calls.
type TokenIssuer interface {
	IssueOrGet(agentID string) string
}

// Adapter is the single downstream session shared by every agent.
type Adapter struct {
	store   TeamContext
	tokens  TokenIssuer
	mcpURL  MCPURLBuilder
	log     *logging.Logger
	launch  Launcher

	mu        sync.Mutex
	client    *rpcClient
	connected bool
	reconnect chan struct{} // non-nil while a reconnect is in flight

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // agent id -> agent lock

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc // agent id -> in-flight call's cancel

	tracked sync.WaitGroup
}

// New creates an Adapter. Connect must be called before Send.
func New(store TeamContext, tokens TokenIssuer, mcpURL MCPURLBuilder, launch Launcher, log *logging.Logger) *Adapter {
	return &Adapter{
		store:  store,
		tokens: tokens,
		mcpURL: mcpURL,
		launch: launch,
		log:    log.WithFields(zap.String("component", "adapter")),
		locks:  make(map[string]*sync.Mutex),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Connect launches the downstream child and starts its read loop. Safe
// to call once at startup; Send calls Reconnect itself if disconnected.
func (a *Adapter) Connect(ctx context.Context) error {
	stdin, stdout, _, err := a.launch.Launch(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.client = newRPCClient(stdin, stdout, a.log)
	a.client.start()
	a.connected = true
	a.mu.Unlock()
	return nil
}

// Reconnect is idempotent: concurrent callers observing a disconnected
// adapter coalesce onto the single reconnect attempt already in flight.
func (a *Adapter) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return nil
	}
	if a.reconnect != nil {
		ch := a.reconnect
		a.mu.Unlock()
		<-ch
		return nil
	}
	ch := make(chan struct{})
	a.reconnect = ch
	a.mu.Unlock()

	err := a.Connect(ctx)

	a.mu.Lock()
	a.reconnect = nil
	a.mu.Unlock()
	close(ch)
	return err
}

func (a *Adapter) agentLock(agentID string) *sync.Mutex {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	l, ok := a.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[agentID] = l
	}
	return l
}

// Send performs one call against agent's continuation (or starts a new
// one), strictly serialized against any other call for the same agent.
func (a *Adapter) Send(ctx context.Context, teamID, agentID, text string) (string, *apperrors.AppError) {
	lock := a.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		if err := a.Reconnect(ctx); err != nil {
			return "", apperrors.Transport("downstream reconnect failed", err)
		}
	}

	team, agent, aerr := a.store.GetAgent(teamID, agentID)
	if aerr != nil {
		return "", aerr
	}

	callCtx, cancel := context.WithTimeout(ctx, CallDeadline)
	a.cancelMu.Lock()
	a.cancels[agentID] = cancel
	a.cancelMu.Unlock()
	defer func() {
		cancel()
		a.cancelMu.Lock()
		delete(a.cancels, agentID)
		a.cancelMu.Unlock()
	}()

	_ = a.store.SetAgentStatus(teamID, agentID, state.AgentWorking)

	method, params := a.buildParams(team, agent, text)

	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		_ = a.store.SetAgentStatus(teamID, agentID, state.AgentError)
		return "", apperrors.Transport("downstream not connected", nil)
	}

	raw, err := client.call(callCtx, method, params)
	if err != nil {
		return a.handleCallError(teamID, agentID, callCtx, err)
	}

	var result childproto.Result
	if decodeErr := decodeResult(raw, &result); decodeErr != nil {
		_ = a.store.SetAgentStatus(teamID, agentID, state.AgentError)
		return "", apperrors.ParseError("malformed downstream result")
	}

	content := childproto.ContentText(result.Content)
	_ = a.store.SetAgentOutput(teamID, agentID, result.Continuation, content)
	_ = a.store.SetAgentStatus(teamID, agentID, state.AgentIdle)
	return content, nil
}

func (a *Adapter) handleCallError(teamID, agentID string, callCtx context.Context, err error) (string, *apperrors.AppError) {
	_ = a.store.SetAgentStatus(teamID, agentID, state.AgentError)

	if callCtx.Err() == context.DeadlineExceeded {
		return "", apperrors.Timeout("adapter call exceeded its deadline")
	}
	if callCtx.Err() == context.Canceled {
		return "", apperrors.Canceled("adapter call was canceled")
	}

	if rerr, ok := err.(*rpcError); ok {
		if childproto.IsContinuationLost(rerr.Message) {
			_ = a.store.ClearContinuation(teamID, agentID)
		}
		return "", apperrors.RemoteError(rerr.Message)
	}

	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return "", apperrors.Transport("downstream transport error", err)
}

func (a *Adapter) buildParams(team *state.Team, agent *state.Agent, text string) (string, interface{}) {
	if agent.Continuation == "" {
		var others []instructions.OtherTeam
		if agent.Lead {
			others = a.otherTeams(team.ID)
		}
		prompt := instructions.Compose(agent, team, others)
		token := a.tokens.IssueOrGet(agent.ID)
		return "start", childproto.StartParams{
			Prompt:           text,
			Model:            agent.Model,
			ApprovalPolicy:   string(agent.Approval),
			Sandbox:          string(agent.Sandbox),
			Cwd:              agent.WorkingDir,
			BaseInstructions: prompt,
			Config: childproto.StartConfig{
				ReasoningEffort: string(agent.ReasoningEffort),
				Search:          true,
				MCPServers: map[string]childproto.MCPServerConfig{
					"orchestrator": {URL: a.mcpURL(agent.ID, token)},
				},
			},
		}
	}
	return "reply", childproto.ReplyParams{Prompt: text, Continuation: agent.Continuation}
}

func (a *Adapter) otherTeams(excludeTeamID string) []instructions.OtherTeam {
	var out []instructions.OtherTeam
	for _, t := range a.store.ListTeams() {
		if t.ID == excludeTeamID {
			continue
		}
		var members []instructions.TeammateView
		for _, ag := range t.Agents {
			members = append(members, instructions.TeammateView{
				ID: ag.ID, Role: ag.Role, Specialization: ag.Specialization, Lead: ag.Lead,
			})
		}
		out = append(out, instructions.OtherTeam{Name: t.Name, Members: members})
	}
	return out
}

// Cancel aborts agentID's current in-flight call, if any, reporting
// whether there was one to cancel.
func (a *Adapter) Cancel(agentID string) bool {
	a.cancelMu.Lock()
	defer a.cancelMu.Unlock()
	cancel, ok := a.cancels[agentID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelTeam cancels every id with an in-flight call, returning those
// actually canceled.
func (a *Adapter) CancelTeam(ids []string) []string {
	var canceled []string
	for _, id := range ids {
		if a.Cancel(id) {
			canceled = append(canceled, id)
		}
	}
	return canceled
}

// Track registers a fire-and-forget operation so Shutdown can await it.
func (a *Adapter) Track(fn func()) {
	a.tracked.Add(1)
	go func() {
		defer a.tracked.Done()
		fn()
	}()
}

// Shutdown awaits tracked operations and closes the downstream session.
func (a *Adapter) Shutdown() {
	a.tracked.Wait()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.stop()
	}
	a.connected = false
}
