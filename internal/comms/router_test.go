package comms

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	busPkg "github.com/kandev/agentorch/internal/bus"
	"github.com/kandev/agentorch/internal/identity"
	"github.com/kandev/agentorch/internal/logging"
	"github.com/kandev/agentorch/internal/state"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T) (*gin.Engine, *state.Store, *identity.Store) {
	store := state.New()
	b := busPkg.New()
	tokens := identity.New()
	svc := New(store, b, tokens)
	log, err := logging.New(logging.Config{Level: "error", Format: "json"})
	require.NoError(t, err)

	router := gin.New()
	SetupRoutes(router, NewHandler(svc, log))
	return router, store, tokens
}

// TestHandshakeRouteMatchesAdapterURL drives a real HTTP request through
// SetupRoutes at the exact path+query shape the Agent Adapter embeds in
// the downstream child's mcp_servers URL (spec.md §6.2:
// "http://<host>:<port>/mcp?agent=<id>&token=<token>"), with no team
// parameter and no "/handshake" suffix.
func TestHandshakeRouteMatchesAdapterURL(t *testing.T) {
	router, store, tokens := setupTestRouter(t)
	team := store.CreateTeam("t1", []state.AgentConfig{{Role: "dev"}}, "/w")
	var agentID string
	for id := range team.Agents {
		agentID = id
	}
	token := tokens.IssueOrGet(agentID)

	req := httptest.NewRequest("GET", "/mcp?agent="+agentID+"&token="+token, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "sessionId")
}

func TestHandshakeRouteRejectsBadToken(t *testing.T) {
	router, store, _ := setupTestRouter(t)
	team := store.CreateTeam("t1", []state.AgentConfig{{Role: "dev"}}, "/w")
	var agentID string
	for id := range team.Agents {
		agentID = id
	}

	req := httptest.NewRequest("GET", "/mcp?agent="+agentID+"&token=wrong", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 403, w.Code)
}

// TestSessionScopedRouteDoesNotShadowHandshake guards against a regression
// where mounting the session-scoped group at the same "/mcp" prefix as the
// handshake route breaks either one.
func TestSessionScopedRouteDoesNotShadowHandshake(t *testing.T) {
	router, store, tokens := setupTestRouter(t)
	team := store.CreateTeam("t1", []state.AgentConfig{{Role: "dev"}}, "/w")
	var agentID string
	for id := range team.Agents {
		agentID = id
	}
	token := tokens.IssueOrGet(agentID)

	hreq := httptest.NewRequest("GET", "/mcp?agent="+agentID+"&token="+token, nil)
	hw := httptest.NewRecorder()
	router.ServeHTTP(hw, hreq)
	require.Equal(t, 200, hw.Code)

	req := httptest.NewRequest("GET", "/mcp/group_peek?session=bogus", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 401, w.Code)
}
