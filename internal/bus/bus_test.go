package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupOwnMessageSuppression(t *testing.T) {
	b := New()
	b.GroupPost("t1", "a1", "dev", "hello")
	b.GroupPost("t1", "a2", "dev", "hi back")

	assert.Equal(t, 1, b.GroupPeek("t1", "a1"))
	msgs := b.GroupRead("t1", "a1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "a2", msgs[0].SenderID)

	// Cursor advanced past both messages even though only one was
	// returned; a second read sees nothing new.
	assert.Equal(t, 0, b.GroupPeek("t1", "a1"))
}

// TestCountingRelay checks own-message suppression with several posters:
// N agents each post once to the group channel; every agent's peek count
// is N-1, and nobody ever sees their own post.
func TestCountingRelay(t *testing.T) {
	b := New()
	agents := []string{"a1", "a2", "a3", "a4"}
	for _, id := range agents {
		b.GroupPost("t1", id, "dev", "ping from "+id)
	}
	for _, id := range agents {
		assert.Equal(t, len(agents)-1, b.GroupPeek("t1", id))
		for _, m := range b.GroupRead("t1", id) {
			assert.NotEqual(t, id, m.SenderID)
		}
	}
}

func TestDMSymmetryAndOwnSuppression(t *testing.T) {
	b := New()
	require.Nil(t, b.DMSend("a1", "dev", "a2", "ping"))
	require.Nil(t, b.DMSend("a2", "dev", "a1", "pong"))

	a1Msgs := b.DMRead("a1", "")
	a2Msgs := b.DMRead("a2", "")
	require.Len(t, a1Msgs, 1)
	require.Len(t, a2Msgs, 1)
	assert.Equal(t, "a2", a1Msgs[0].SenderID)
	assert.Equal(t, "a1", a2Msgs[0].SenderID)
}

func TestDMFilteredReadAdvancesOnlyThatChannel(t *testing.T) {
	b := New()
	require.Nil(t, b.DMSend("a1", "dev", "a3", "from a1"))
	require.Nil(t, b.DMSend("a2", "dev", "a3", "from a2"))

	filtered := b.DMRead("a3", "a1")
	require.Len(t, filtered, 1)
	assert.Equal(t, "a1", filtered[0].SenderID)

	// The a2 channel is untouched; a3 still has it unread.
	assert.Equal(t, 1, b.DMPeek("a3"))
	rest := b.DMRead("a3", "")
	require.Len(t, rest, 1)
	assert.Equal(t, "a2", rest[0].SenderID)
}

func TestSelfDMRejected(t *testing.T) {
	b := New()
	err := b.DMSend("a1", "dev", "a1", "to myself")
	require.NotNil(t, err)
}

func TestLeadChannelOwnSuppression(t *testing.T) {
	b := New()
	b.LeadPost("lead1", "lead", "[team-a] status update")
	assert.Equal(t, 0, b.LeadPeek("lead1"))
	b.LeadPost("lead2", "lead", "[team-b] status update")
	assert.Equal(t, 1, b.LeadPeek("lead1"))
}

func TestSharedArtifactLog(t *testing.T) {
	b := New()
	b.Share("t1", "a1", "design.md contents")
	b.Share("t1", "a2", "notes")
	got := b.GetShared("t1")
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].SenderID)
}

func TestWaitReturnsImmediatelyWhenAlreadyUnread(t *testing.T) {
	b := New()
	b.GroupPost("t1", "a2", "dev", "hi")
	r := b.Wait("t1", "a1", false, 5*time.Second)
	assert.False(t, r.TimedOut)
	assert.Equal(t, 1, r.GroupChat)
}

func TestWaitWakesOnDelivery(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	var result WaitResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		result = b.Wait("t1", "a1", false, 5*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	b.GroupPost("t1", "a2", "dev", "wake up")
	wg.Wait()
	assert.False(t, result.TimedOut)
	assert.Equal(t, 1, result.GroupChat)
}

func TestWaitTimesOut(t *testing.T) {
	b := New()
	r := b.Wait("t1", "a1", false, MinWaitTimeout)
	assert.True(t, r.TimedOut)
}

func TestWaitClampsTimeoutBounds(t *testing.T) {
	b := New()
	start := time.Now()
	r := b.Wait("t1", "a1", false, 1*time.Millisecond)
	assert.True(t, r.TimedOut)
	assert.GreaterOrEqual(t, time.Since(start), MinWaitTimeout)
}

func TestWaitWakesOnDissolution(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	var result WaitResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		result = b.Wait("t1", "a1", false, 5*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	b.DissolveTeam("t1", []string{"a1", "a2"})
	wg.Wait()
	assert.True(t, result.Dissolved)
}

func TestDissolveTeamRemovesDMChannelsTouchingMembers(t *testing.T) {
	b := New()
	require.Nil(t, b.DMSend("a1", "dev", "outsider", "hi"))
	b.DissolveTeam("t1", []string{"a1"})
	assert.Equal(t, 0, b.DMPeek("outsider"))
}
