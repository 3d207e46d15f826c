package confirmation

import (
	"slices"
	"strings"
	"sync"

	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
)

// Buffer collects pending changes per mail address for one scope. The last
// action recorded for a newsletter wins.
type Buffer struct {
	mu      sync.Mutex
	changes map[string]subscriber.Changes
}

func NewBuffer() *Buffer {
	return &Buffer{changes: make(map[string]subscriber.Changes)}
}

func (b *Buffer) Add(mail, newsletterID string, action subscriber.Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.changes[mail]
	if !ok {
		c = make(subscriber.Changes)
		b.changes[mail] = c
	}
	c[newsletterID] = action
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.changes)
}

// Drain returns the buffered changes ordered by mail and empties the buffer.
func (b *Buffer) Drain() []Pending {
	b.mu.Lock()
	changes := b.changes
	b.changes = make(map[string]subscriber.Changes)
	b.mu.Unlock()

	out := make([]Pending, 0, len(changes))
	for mail, c := range changes {
		out = append(out, Pending{Mail: mail, Changes: c})
	}
	slices.SortFunc(out, func(a, b Pending) int { return strings.Compare(a.Mail, b.Mail) })
	return out
}

// Pending is the change set buffered for one address.
type Pending struct {
	Mail    string
	Changes subscriber.Changes
}
