package voicechat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transcript is an append-only, concurrency-safe conversation history.
// Entries are never removed individually; Clear drops the whole history.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds a finished entry and returns it with its generated ID.
// Content is trimmed; an all-whitespace message still produces an entry
// with empty content so callers can rely on the returned ID.
func (t *Transcript) Append(kind EntryKind, content string, isUser bool) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Content:   strings.TrimSpace(content),
		Kind:      kind,
		IsUser:    isUser,
		CreatedAt: time.Now(),
	}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	return e
}

// Grow appends text to the entry with the given ID. It reports whether the
// entry was found; growing an unknown ID is a no-op.
func (t *Transcript) Grow(id, text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].ID == id {
			t.entries[i].Content += text
			return true
		}
	}
	return false
}

// Content returns the current content of the entry with the given ID.
func (t *Transcript) Content(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].ID == id {
			return t.entries[i].Content, true
		}
	}
	return "", false
}

// Entries returns a copy of the history in arrival order.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear drops the whole history.
func (t *Transcript) Clear() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}
