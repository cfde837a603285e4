package bus

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/agentorch/internal/apperrors"
)

// Bus is the single in-process Message Bus shared by every team. Like
// state.Store it favors one coarse lock per concern over fine-grained
// sharding; at orchestrator scale (tens of agents) contention is not a
// real cost and the simplicity buys correctness.
type Bus struct {
	mu       sync.RWMutex
	group    map[string]*channel // teamID -> channel
	dm       map[string]*channel // canonical pair key -> channel
	lead     *channel            // singleton, cross-team
	artifact map[string]*[]Artifact

	waitersMu sync.Mutex
	waiters   []*waiter
}

type waiter struct {
	ch        chan struct{}
	team      string
	agent     string
	isLead    bool
	dissolved atomic.Bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		group:    make(map[string]*channel),
		dm:       make(map[string]*channel),
		lead:     newChannel(),
		artifact: make(map[string]*[]Artifact),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (b *Bus) groupChannel(teamID string) *channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.group[teamID]
	if !ok {
		c = newChannel()
		b.group[teamID] = c
	}
	return c
}

func (b *Bus) dmChannel(a, other string) *channel {
	key := pairKey(a, other)
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.dm[key]
	if !ok {
		c = newChannel()
		b.dm[key] = c
	}
	return c
}

// GroupPost appends a message to a team's group channel.
func (b *Bus) GroupPost(teamID, senderID, senderRole, text string) {
	b.groupChannel(teamID).append(Message{
		ID: uuid.NewString(), SenderID: senderID, SenderRole: senderRole,
		Text: text, Timestamp: time.Now(),
	})
	b.notify(teamID, "", false)
}

// GroupRead returns unread group messages for reader, excluding their own.
func (b *Bus) GroupRead(teamID, reader string) []Message {
	return b.groupChannel(teamID).read(reader)
}

// GroupPeek is the non-destructive unread count for reader.
func (b *Bus) GroupPeek(teamID, reader string) int {
	return b.groupChannel(teamID).peek(reader)
}

// DMSend appends a message to the shared channel for (from, to).
func (b *Bus) DMSend(from, fromRole, to, text string) *apperrors.AppError {
	if from == to {
		return apperrors.InvalidArgument("cannot dm self")
	}
	b.dmChannel(from, to).append(Message{
		ID: uuid.NewString(), SenderID: from, SenderRole: fromRole,
		Text: text, Timestamp: time.Now(),
	})
	b.notify("", from, false)
	b.notify("", to, false)
	return nil
}

// dmPairsFor returns the canonical keys of every DM channel the agent
// participates in.
func (b *Bus) dmPairsFor(agent string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	prefix := agent + "|"
	suffix := "|" + agent
	for k := range b.dm {
		if strings.HasPrefix(k, prefix) || strings.HasSuffix(k, suffix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (b *Bus) dmChannelByKey(key string) *channel {
	b.mu.RLock()
	c := b.dm[key]
	b.mu.RUnlock()
	return c
}

// DMRead reads a reader's DMs. If from is non-empty, only the shared
// channel with that sender is consulted and only that channel's cursor
// advances. Otherwise every channel the reader participates in is
// drained and merged in timestamp order, advancing all their cursors.
func (b *Bus) DMRead(reader, from string) []Message {
	if from != "" {
		return b.dmChannel(reader, from).read(reader)
	}
	var all []Message
	for _, key := range b.dmPairsFor(reader) {
		c := b.dmChannelByKey(key)
		if c == nil {
			continue
		}
		all = append(all, c.read(reader)...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all
}

// DMPeek is the total unread count across every DM channel reader is in.
func (b *Bus) DMPeek(reader string) int {
	total := 0
	for _, key := range b.dmPairsFor(reader) {
		if c := b.dmChannelByKey(key); c != nil {
			total += c.peek(reader)
		}
	}
	return total
}

// LeadPost appends to the singleton cross-team lead channel. Callers
// prefix team context into text themselves (e.g. "[team-a] ...") since
// the channel has no per-team partitioning.
func (b *Bus) LeadPost(senderID, senderRole, text string) {
	b.lead.append(Message{
		ID: uuid.NewString(), SenderID: senderID, SenderRole: senderRole,
		Text: text, Timestamp: time.Now(),
	})
	b.notify("", "", true)
}

func (b *Bus) LeadRead(reader string) []Message { return b.lead.read(reader) }
func (b *Bus) LeadPeek(reader string) int       { return b.lead.peek(reader) }

// Share appends to a team's shared artifact log.
func (b *Bus) Share(teamID, senderID, text string) {
	b.mu.Lock()
	log, ok := b.artifact[teamID]
	if !ok {
		log = &[]Artifact{}
		b.artifact[teamID] = log
	}
	*log = append(*log, Artifact{SenderID: senderID, Text: text, Timestamp: time.Now()})
	b.mu.Unlock()
}

// GetShared returns a snapshot of a team's shared artifact log.
func (b *Bus) GetShared(teamID string) []Artifact {
	b.mu.RLock()
	defer b.mu.RUnlock()
	log, ok := b.artifact[teamID]
	if !ok {
		return nil
	}
	out := make([]Artifact, len(*log))
	copy(out, *log)
	return out
}

// Wait blocks until the group, DM, or (if isLead) lead channel has
// something unread for agent, or the team is dissolved, or timeout
// elapses. It returns immediately if any count is already positive.
func (b *Bus) Wait(teamID, agent string, isLead bool, timeout time.Duration) WaitResult {
	if timeout < MinWaitTimeout {
		timeout = MinWaitTimeout
	}
	if timeout > MaxWaitTimeout {
		timeout = MaxWaitTimeout
	}

	if r, ok := b.peekAll(teamID, agent, isLead); ok {
		return r
	}

	w := &waiter{ch: make(chan struct{}, 1), team: teamID, agent: agent, isLead: isLead}
	b.registerWaiter(w)
	defer b.unregisterWaiter(w)

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return WaitResult{TimedOut: true}
		}
		timer := time.NewTimer(remaining)
		select {
		case <-w.ch:
			timer.Stop()
			if w.dissolved.Load() {
				return WaitResult{Dissolved: true}
			}
			if r, ok := b.peekAll(teamID, agent, isLead); ok {
				return r
			}
			// Spurious wake (event was for a different, now-consumed
			// delivery) — keep waiting out the remaining budget.
		case <-timer.C:
			return WaitResult{TimedOut: true}
		}
	}
}

func (b *Bus) peekAll(teamID, agent string, isLead bool) (WaitResult, bool) {
	group := b.GroupPeek(teamID, agent)
	dms := b.DMPeek(agent)
	lead := 0
	if isLead {
		lead = b.LeadPeek(agent)
	}
	if group > 0 || dms > 0 || lead > 0 {
		return WaitResult{GroupChat: group, Dms: dms, LeadChat: lead}, true
	}
	return WaitResult{}, false
}

func (b *Bus) registerWaiter(w *waiter) {
	b.waitersMu.Lock()
	defer b.waitersMu.Unlock()
	b.waiters = append(b.waiters, w)
}

func (b *Bus) unregisterWaiter(target *waiter) {
	b.waitersMu.Lock()
	defer b.waitersMu.Unlock()
	for i, w := range b.waiters {
		if w == target {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// notify wakes waiters relevant to a new group post (team set), a DM
// delivery (agent set), or a lead post (lead=true).
func (b *Bus) notify(team, agent string, lead bool) {
	b.waitersMu.Lock()
	defer b.waitersMu.Unlock()
	for _, w := range b.waiters {
		relevant := (team != "" && w.team == team) ||
			(agent != "" && w.agent == agent) ||
			(lead && w.isLead)
		if !relevant {
			continue
		}
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}

// GroupSnapshot returns a team's full group-chat log, unfiltered and
// without disturbing any reader's cursor. Used for mission/team
// post-mortem snapshots (spec.md §4.7), which must not consume the
// messages they capture.
func (b *Bus) GroupSnapshot(teamID string) []Message {
	return b.groupChannel(teamID).snapshot()
}

// DMSnapshotFor returns every message in a DM channel any of
// participantIDs belongs to, merged and sorted by timestamp, without
// touching cursors.
func (b *Bus) DMSnapshotFor(participantIDs []string) []Message {
	seen := make(map[string]bool)
	var all []Message
	for _, id := range participantIDs {
		for _, key := range b.dmPairsFor(id) {
			if seen[key] {
				continue
			}
			seen[key] = true
			if c := b.dmChannelByKey(key); c != nil {
				all = append(all, c.snapshot()...)
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all
}

// LeadSnapshotAuthoredBy returns the full lead-channel log filtered to
// messages authored by one of authorIDs, without touching cursors.
func (b *Bus) LeadSnapshotAuthoredBy(authorIDs []string) []Message {
	want := make(map[string]bool, len(authorIDs))
	for _, id := range authorIDs {
		want[id] = true
	}
	var out []Message
	for _, m := range b.lead.snapshot() {
		if want[m.SenderID] {
			out = append(out, m)
		}
	}
	return out
}

// DissolveTeam removes a team's group channel and shared artifact log,
// drops every DM channel touching any of the team's agent ids (the
// spec treats both-endpoints-in-team and one-endpoint-in-team the same
// way: the channel goes away with the team), clears those agents' lead
// channel cursors, and wakes any waiter pinned to this team so it can
// report dissolution instead of hanging until timeout.
func (b *Bus) DissolveTeam(teamID string, agentIDs []string) {
	b.mu.Lock()
	delete(b.group, teamID)
	delete(b.artifact, teamID)
	members := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		members[id] = true
	}
	for key := range b.dm {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) == 2 && (members[parts[0]] || members[parts[1]]) {
			delete(b.dm, key)
		}
	}
	b.mu.Unlock()

	for _, id := range agentIDs {
		b.lead.dropCursor(id)
	}

	b.waitersMu.Lock()
	for _, w := range b.waiters {
		if w.team == teamID {
			w.dissolved.Store(true)
			select {
			case w.ch <- struct{}{}:
			default:
			}
		}
	}
	b.waitersMu.Unlock()
}
