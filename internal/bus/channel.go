package bus

import "sync"

// channel is an append-only ordered log with one read cursor per reader.
// Own-message suppression is applied uniformly at read/peek time: a
// reader never receives entries it authored itself, and its cursor still
// advances past them so they are never re-delivered to anyone reading
// from an earlier position.
type channel struct {
	mu       sync.Mutex
	messages []Message
	cursors  map[string]int
}

func newChannel() *channel {
	return &channel{cursors: make(map[string]int)}
}

func (c *channel) append(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// peek reports how many unread messages (excluding reader's own) sit at
// or after reader's cursor, without advancing it.
func (c *channel) peek(reader string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countFrom(c.cursors[reader], reader)
}

// read returns unread messages excluding reader's own, advancing the
// cursor to the end of the log regardless of how many were returned.
func (c *channel) read(reader string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	from := c.cursors[reader]
	out := make([]Message, 0, len(c.messages)-from)
	for _, m := range c.messages[from:] {
		if m.SenderID != reader {
			out = append(out, m)
		}
	}
	c.cursors[reader] = len(c.messages)
	return out
}

func (c *channel) countFrom(from int, reader string) int {
	n := 0
	for _, m := range c.messages[from:] {
		if m.SenderID != reader {
			n++
		}
	}
	return n
}

// snapshot returns the full message log, ignoring cursors.
func (c *channel) snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *channel) dropCursor(reader string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cursors, reader)
}
