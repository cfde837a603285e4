package comms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentorch/internal/apperrors"
	busPkg "github.com/kandev/agentorch/internal/bus"
	"github.com/kandev/agentorch/internal/identity"
	"github.com/kandev/agentorch/internal/state"
)

func setupComms(t *testing.T) (*Service, *state.Store, *identity.Store) {
	store := state.New()
	b := busPkg.New()
	tokens := identity.New()
	return New(store, b, tokens), store, tokens
}

// TestCrossTeamDMAuthorization implements scenario 3 from spec.md §8.
func TestCrossTeamDMAuthorization(t *testing.T) {
	svc, store, tokens := setupComms(t)

	t1 := store.CreateTeam("t1", []state.AgentConfig{{Role: "lead", Lead: true}, {Role: "worker"}}, "/w")
	t2 := store.CreateTeam("t2", []state.AgentConfig{{Role: "lead", Lead: true}, {Role: "worker"}}, "/w")

	var l1, w1, l2, w2 string
	for id, a := range t1.Agents {
		if a.Lead {
			l1 = id
		} else {
			w1 = id
		}
	}
	for id, a := range t2.Agents {
		if a.Lead {
			l2 = id
		} else {
			w2 = id
		}
	}

	l1Sess, aerr := svc.Handshake(l1, tokens.IssueOrGet(l1))
	require.Nil(t, aerr)
	w1Sess, aerr := svc.Handshake(w1, tokens.IssueOrGet(w1))
	require.Nil(t, aerr)

	require.Nil(t, svc.DMSend(l1Sess, l2, "hi"))
	assert.Equal(t, apperrors.CodeUnauthorized, svc.DMSend(w1Sess, w2, "hi").Code)
	assert.Equal(t, apperrors.CodeUnauthorized, svc.DMSend(l1Sess, w2, "hi").Code)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	svc, store, _ := setupComms(t)
	team := store.CreateTeam("t1", []state.AgentConfig{{Role: "dev"}}, "/w")
	var agentID string
	for id := range team.Agents {
		agentID = id
	}
	_, aerr := svc.Handshake(agentID, "wrong-token")
	require.NotNil(t, aerr)
	assert.Equal(t, apperrors.CodeForbidden, aerr.Code)
}

func TestLeadChannelRequiresLeadFlag(t *testing.T) {
	svc, store, tokens := setupComms(t)
	team := store.CreateTeam("t1", []state.AgentConfig{{Role: "dev"}}, "/w")
	var agentID string
	for id := range team.Agents {
		agentID = id
	}
	sess, aerr := svc.Handshake(agentID, tokens.IssueOrGet(agentID))
	require.Nil(t, aerr)

	require.NotNil(t, svc.LeadPost(sess, "t1", "status"))
	_, aerr = svc.LeadRead(sess)
	require.NotNil(t, aerr)
	assert.Equal(t, apperrors.CodeUnauthorized, aerr.Code)
}

func TestGetTeamContextIncludesOtherTeams(t *testing.T) {
	svc, store, tokens := setupComms(t)
	t1 := store.CreateTeam("alpha", []state.AgentConfig{{Role: "lead", Lead: true}}, "/w")
	store.CreateTeam("beta", []state.AgentConfig{{Role: "lead", Lead: true}}, "/w")

	var leadID string
	for id := range t1.Agents {
		leadID = id
	}
	sess, aerr := svc.Handshake(leadID, tokens.IssueOrGet(leadID))
	require.Nil(t, aerr)

	ctx, aerr := svc.GetTeamContext(sess)
	require.Nil(t, aerr)
	assert.Equal(t, "alpha", ctx.TeamName)
	require.Len(t, ctx.Others, 1)
	assert.Equal(t, "beta", ctx.Others[0].Name)
}
