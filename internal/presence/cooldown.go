// Package presence rate-limits attendance marks per identity.
package presence

import "time"

// DefaultCooldown is how long an identity stays quiet after being marked.
const DefaultCooldown = 10 * time.Second

// Cooldown remembers when each identity was last marked by this process.
// It is owned by a single capture loop and is not safe for concurrent use.
type Cooldown struct {
	window time.Duration
	last   map[string]time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: make(map[string]time.Time)}
}

// ShouldMark reports whether id is due for a new mark at now: either it was
// never marked, or more than the window has passed since the last mark.
func (c *Cooldown) ShouldMark(id string, now time.Time) bool {
	last, ok := c.last[id]
	if !ok {
		return true
	}
	return now.Sub(last) > c.window
}

// RecordMark stores now as the last mark time for id. Callers record after
// every submission attempt, successful or not.
func (c *Cooldown) RecordMark(id string, now time.Time) {
	c.last[id] = now
}

// Len returns the number of identities marked so far.
func (c *Cooldown) Len() int {
	return len(c.last)
}
