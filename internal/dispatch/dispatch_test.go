package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/bus"
	"github.com/kandev/agentorch/internal/logging"
	"github.com/kandev/agentorch/internal/state"
)

type scriptedAdapter struct {
	rejectRole map[string]bool
}

func (a *scriptedAdapter) Send(ctx context.Context, teamID, agentID, text string) (string, *apperrors.AppError) {
	if a.rejectRole[text] {
		return "", apperrors.RemoteError("boom: " + text)
	}
	return "done: " + text, nil
}

// TestDispatchWithOneFailure implements scenario 4 from spec.md §8.
func TestDispatchWithOneFailure(t *testing.T) {
	store := state.New()
	b := bus.New()
	ad := &scriptedAdapter{rejectRole: map[string]bool{"boom": true}}
	d := New(store, b, ad, logging.NewNop())

	results := d.Dispatch(context.Background(), "mix", "/tmp", []Spec{
		{Config: state.AgentConfig{Role: "good"}, Task: "ok"},
		{Config: state.AgentConfig{Role: "bad"}, Task: "boom"},
		{Config: state.AgentConfig{Role: "ok2"}, Task: "ok"},
	})

	require.Len(t, results, 3)
	errs, oks := 0, 0
	for _, r := range results {
		if r.Err != nil {
			errs++
		} else {
			oks++
		}
	}
	assert.Equal(t, 1, errs)
	assert.Equal(t, 2, oks)

	// The team itself must be gone after Dispatch returns.
	teams := store.ListTeams()
	for _, team := range teams {
		assert.NotEqual(t, "mix", team.Name)
	}
}
