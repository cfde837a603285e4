package steering

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/state"
)

type fakeBus struct {
	posts []string
}

func (f *fakeBus) GroupPost(teamID, senderID, senderRole, text string) {
	f.posts = append(f.posts, senderID+":"+text)
}

type fakeAdapter struct {
	canceled map[string]bool
	rejectID string
}

func (f *fakeAdapter) CancelTeam(ids []string) []string {
	var out []string
	for _, id := range ids {
		if f.canceled[id] {
			out = append(out, id)
		}
	}
	return out
}

func (f *fakeAdapter) Send(ctx context.Context, teamID, agentID, text string) (string, *apperrors.AppError) {
	if agentID == f.rejectID {
		return "", apperrors.RemoteError("boom")
	}
	return "ok", nil
}

// TestSteerAtomicity implements the steer-atomicity property from
// spec.md §8: aborted ∪ steered ∪ failed == target set.
func TestSteerAtomicity(t *testing.T) {
	store := state.New()
	team := store.CreateTeam("t1", []state.AgentConfig{{Role: "a"}, {Role: "b"}, {Role: "c"}}, "/work")
	var targets []string
	for id := range team.Agents {
		targets = append(targets, id)
	}

	b := &fakeBus{}
	ad := &fakeAdapter{canceled: map[string]bool{targets[0]: true}, rejectID: targets[1]}
	s := New(store, b, ad)

	result, aerr := s.Steer(context.Background(), team.ID, "pivot to plan B", nil)
	require.Nil(t, aerr)

	union := map[string]bool{}
	for _, id := range result.Aborted {
		union[id] = true
	}
	for _, id := range result.Steered {
		union[id] = true
	}
	for _, id := range result.Failed {
		union[id] = true
	}
	for _, id := range targets {
		assert.True(t, union[id], "target %s missing from aborted/steered/failed union", id)
	}

	require.Len(t, b.posts, 1)
	assert.Contains(t, b.posts[0], OrchestratorIdentity)
	assert.Contains(t, b.posts[0], "pivot to plan B")
}

func TestSteerRejectsEmptyTeam(t *testing.T) {
	store := state.New()
	team := store.CreateTeam("t1", nil, "/work")
	s := New(store, &fakeBus{}, &fakeAdapter{canceled: map[string]bool{}})
	_, aerr := s.Steer(context.Background(), team.ID, "go", nil)
	require.NotNil(t, aerr)
	assert.Equal(t, apperrors.CodeInvalidArgument, aerr.Code)
}
