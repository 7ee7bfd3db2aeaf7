// Package answers holds the candidate answers of the round in progress.
package answers

import (
	"sync"
	"time"
)

// MaxTextLen is the number of runes kept from an answer.
const MaxTextLen = 300

// Answer is one participant's reply to the open question.
type Answer struct {
	Identity string
	Text     string
	At       time.Time
}

// Buffer keeps at most one answer per identity while a question is open.
type Buffer struct {
	mu      sync.Mutex
	open    bool
	order   []string
	answers map[string]Answer
}

func NewBuffer() *Buffer {
	return &Buffer{answers: make(map[string]Answer)}
}

// Open clears the buffer and starts accepting answers.
func (b *Buffer) Open() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
	b.open = true
}

// Close stops accepting answers and discards everything recorded.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
	b.open = false
}

// Record stores text for identity if the buffer is open and identity has not
// answered yet. The first answer wins.
func (b *Buffer) Record(identity, text string, at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open || identity == "" {
		return false
	}
	if _, ok := b.answers[identity]; ok {
		return false
	}
	b.answers[identity] = Answer{Identity: identity, Text: truncate(text, MaxTextLen), At: at}
	b.order = append(b.order, identity)
	return true
}

// Evict drops answers recorded before olderThan and returns how many went.
func (b *Buffer) Evict(olderThan time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.order[:0]
	n := 0
	for _, id := range b.order {
		if b.answers[id].At.Before(olderThan) {
			delete(b.answers, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	b.order = kept
	return n
}

// Snapshot returns the recorded answers in arrival order.
func (b *Buffer) Snapshot() []Answer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Answer, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.answers[id])
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

func (b *Buffer) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Lookup returns the answer recorded for identity.
func (b *Buffer) Lookup(identity string) (Answer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.answers[identity]
	return a, ok
}

func (b *Buffer) reset() {
	b.order = nil
	b.answers = make(map[string]Answer)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
