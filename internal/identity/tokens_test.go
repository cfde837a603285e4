package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIssueOrGetStable(t *testing.T) {
	s := New()
	a := s.IssueOrGet("agent-1")
	b := s.IssueOrGet("agent-1")
	assert.Equal(t, a, b)
}

func TestVerify(t *testing.T) {
	s := New()
	tok := s.IssueOrGet("agent-1")
	assert.True(t, s.Verify("agent-1", tok))
	assert.False(t, s.Verify("agent-1", "wrong"))
	assert.False(t, s.Verify("agent-2", tok))
}

func TestForget(t *testing.T) {
	s := New()
	tok := s.IssueOrGet("agent-1")
	s.Forget("agent-1")
	assert.False(t, s.Verify("agent-1", tok))
}
