package mission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/bus"
	"github.com/kandev/agentorch/internal/logging"
	"github.com/kandev/agentorch/internal/state"
)

// scriptedSender answers every adapter call successfully with text naming
// the agent and echoing the prompt; whether verification passes is set
// by the verify command each test passes to Launch.
type scriptedSender struct {
	mu       sync.Mutex
	calls    int32
	fixCalls int32
	leadOut  string
}

func (s *scriptedSender) Send(ctx context.Context, teamID, agentID, text string) (string, *apperrors.AppError) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("handled by %s: %s", agentID, text), nil
}

func setup(t *testing.T) (*state.Store, *bus.Bus) {
	t.Helper()
	return state.New(), bus.New()
}

func specs() []TeamSpec {
	return []TeamSpec{
		{Role: "lead", Lead: true},
		{Role: "worker"},
	}
}

// TestLaunchVerifiesOnFirstAttempt implements spec.md §8 scenario 5: a
// mission whose verify command passes on the first try goes straight
// from verifying to reviewing to completed, with exactly one verify log
// entry.
func TestLaunchVerifiesOnFirstAttempt(t *testing.T) {
	store, b := setup(t)
	sender := &scriptedSender{}
	e := New(store, b, sender, logging.NewNop())

	id, aerr := e.Launch(context.Background(), "ship the thing", "/tmp", specs(), "true", 1)
	require.Nil(t, aerr)

	view, aerr := e.Await(context.Background(), id, 10*time.Millisecond, 5*time.Second)
	require.Nil(t, aerr)

	assert.Equal(t, PhaseCompleted, view.Phase)
	require.Len(t, view.VerifyLog, 1)
	assert.True(t, view.VerifyLog[0].Passed)
	assert.NotEmpty(t, view.FinalReport)
}

// TestLaunchRetriesThenExhausts implements spec.md §8 scenario 6: with
// maxRetries=1, a verify command that always fails produces exactly two
// verify log entries (the initial attempt plus one retry after fixing),
// invokes the fixing phase, and still reaches completed.
func TestLaunchRetriesThenExhausts(t *testing.T) {
	store, b := setup(t)
	sender := &scriptedSender{}
	e := New(store, b, sender, logging.NewNop())

	id, aerr := e.Launch(context.Background(), "ship the thing", "/tmp", specs(), "false", 1)
	require.Nil(t, aerr)

	view, aerr := e.Await(context.Background(), id, 10*time.Millisecond, 5*time.Second)
	require.Nil(t, aerr)

	assert.Equal(t, PhaseCompleted, view.Phase)
	require.Len(t, view.VerifyLog, 2)
	assert.False(t, view.VerifyLog[0].Passed)
	assert.False(t, view.VerifyLog[1].Passed)
}

func TestLaunchRejectsWrongLeadCount(t *testing.T) {
	store, b := setup(t)
	e := New(store, b, &scriptedSender{}, logging.NewNop())

	_, aerr := e.Launch(context.Background(), "obj", "/tmp", []TeamSpec{
		{Role: "a"}, {Role: "b"},
	}, "", 1)
	require.NotNil(t, aerr)
	assert.Equal(t, apperrors.CodeInvalidArgument, aerr.Code)
}

// TestCommsNotReadyUntilTerminal covers the get_mission_comms precondition.
func TestCommsNotReadyUntilTerminal(t *testing.T) {
	store, b := setup(t)
	block := make(chan struct{})
	sender := &blockingSender{release: block}
	e := New(store, b, sender, logging.NewNop())

	id, aerr := e.Launch(context.Background(), "obj", "/tmp", specs(), "", 1)
	require.Nil(t, aerr)

	_, aerr = e.Comms(id)
	require.NotNil(t, aerr)
	assert.Equal(t, apperrors.CodeNotReady, aerr.Code)

	close(block)
	_, aerr = e.Await(context.Background(), id, 10*time.Millisecond, 5*time.Second)
	require.Nil(t, aerr)
}

type blockingSender struct {
	release chan struct{}
}

func (s *blockingSender) Send(ctx context.Context, teamID, agentID, text string) (string, *apperrors.AppError) {
	<-s.release
	return "ok: " + text, nil
}

// TestRetentionEvictsAfterWindow exercises the post-mortem retention
// property: the snapshot is retrievable immediately on completion and
// gone once the retention timer has fired.
func TestRetentionEvictsAfterWindow(t *testing.T) {
	store, b := setup(t)
	sender := &scriptedSender{}
	e := New(store, b, sender, logging.NewNop())

	id, aerr := e.Launch(context.Background(), "obj", "/tmp", specs(), "true", 1)
	require.Nil(t, aerr)

	require.Eventually(t, func() bool {
		_, aerr := e.Comms(id)
		return aerr == nil
	}, 5*time.Second, 5*time.Millisecond)

	// Simulate the retention window elapsing without sleeping 30 minutes:
	// call the same eviction path the AfterFunc timer invokes.
	e.evict(id)

	_, aerr = e.Comms(id)
	require.NotNil(t, aerr)
	assert.Equal(t, apperrors.CodeNotFound, aerr.Code)
}

// failLeadStore wraps a real state.Store but fails AddAgent for any lead
// spec, simulating a setup-level failure distinct from a mid-mission
// worker/verify failure.
type failLeadStore struct {
	*state.Store
}

func (f *failLeadStore) AddAgent(teamID string, cfg state.AgentConfig) (*state.Agent, *apperrors.AppError) {
	if cfg.Lead {
		return nil, apperrors.InvalidArgument("simulated lead provisioning failure")
	}
	return f.Store.AddAgent(teamID, cfg)
}

// TestLaunchEntersPhaseErrorWithoutLead covers the one path that actually
// reaches PhaseError: the lead agent fails to be created, so the mission
// can never execute and is immediately terminal.
func TestLaunchEntersPhaseErrorWithoutLead(t *testing.T) {
	store, b := setup(t)
	e := New(&failLeadStore{store}, b, &scriptedSender{}, logging.NewNop())

	id, aerr := e.Launch(context.Background(), "obj", "/tmp", specs(), "", 1)
	require.Nil(t, aerr)

	view, aerr := e.Status(id)
	require.Nil(t, aerr)
	assert.Equal(t, PhaseError, view.Phase)
	assert.NotEmpty(t, view.Error)

	_, aerr = e.Comms(id)
	require.Nil(t, aerr)
}

func TestAwaitTimesOutWhileStillRunning(t *testing.T) {
	store, b := setup(t)
	block := make(chan struct{})
	sender := &blockingSender{release: block}
	defer close(block)
	e := New(store, b, sender, logging.NewNop())

	id, aerr := e.Launch(context.Background(), "obj", "/tmp", specs(), "", 1)
	require.Nil(t, aerr)

	_, aerr = e.Await(context.Background(), id, 5*time.Millisecond, 30*time.Millisecond)
	require.NotNil(t, aerr)
	assert.Equal(t, apperrors.CodeTimeout, aerr.Code)
}
