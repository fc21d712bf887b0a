// Package memory holds the short-term conversation window the intent
// router reads from.
package memory

import (
	"strings"
	"sync"
	"time"
)

// EmptyHistory is what RenderTail returns when nothing has been said yet.
const EmptyHistory = "Error: No conversation history available."

// Role identifies the speaker of an utterance.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Utterance is one line of the conversation.
type Utterance struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Ring is a fixed-capacity circular buffer of utterances. Appending to a
// full ring evicts the oldest entry. It is safe for concurrent use.
type Ring struct {
	mu    sync.RWMutex
	buf   []Utterance
	head  int // index of the oldest entry
	count int
	now   func() time.Time
}

// NewRing returns an empty ring holding at most capacity utterances.
// capacity below 1 is treated as 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf: make([]Utterance, capacity),
		now: time.Now,
	}
}

// SetClock replaces the timestamp source. Intended for tests.
func (r *Ring) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Append stamps and stores an utterance.
func (r *Ring) Append(role Role, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := Utterance{Role: role, Content: content, Timestamp: r.now().UTC()}
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = u
		r.count++
		return
	}
	r.buf[r.head] = u
	r.head = (r.head + 1) % len(r.buf)
}

// Len returns the number of stored utterances.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring's capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Tail returns copies of the last n utterances, oldest first.
func (r *Ring) Tail(n int) []Utterance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tailLocked(n)
}

// Snapshot returns copies of every stored utterance, oldest first.
func (r *Ring) Snapshot() []Utterance {
	return r.Tail(len(r.buf))
}

func (r *Ring) tailLocked(n int) []Utterance {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Utterance, n)
	first := r.head + r.count - n
	for i := range out {
		out[i] = r.buf[(first+i)%len(r.buf)]
	}
	return out
}

// RenderTail formats the last n utterances one per line as
// "[timestamp] role: content". An empty ring yields EmptyHistory; n <= 0
// on a non-empty ring yields "".
func (r *Ring) RenderTail(n int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return EmptyHistory
	}
	var b strings.Builder
	for _, u := range r.tailLocked(n) {
		b.WriteString(FormatLine(u))
	}
	return b.String()
}

// FormatLine renders a single utterance including the trailing newline.
func FormatLine(u Utterance) string {
	return "[" + u.Timestamp.Format(time.RFC3339) + "] " + string(u.Role) + ": " + u.Content + "\n"
}
