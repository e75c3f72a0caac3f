// Package logring provides a ring-buffered, level-filtered log sink.
//
// The sink keeps the most recent entries in memory so a UI or a bug report
// can show what the client was doing right before a failure, without the
// process having to write anything to disk. It implements
// zerolog.LevelWriter, so it can sit underneath a zerolog.Logger (typically
// via zerolog.MultiLevelWriter together with a console writer).
package logring

import (
	"bytes"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is the severity of a log entry.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelSuccess
	LevelWarning
	LevelError
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is a single captured log line.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
}

// DefaultCapacity bounds the history when no explicit capacity is given.
const DefaultCapacity = 500

// Sink is a fixed-capacity ring of log entries. Once full, the oldest entry
// is evicted on every append. All methods are safe for concurrent use.
type Sink struct {
	mu      sync.Mutex
	min     Level
	entries []Entry
	start   int
	count   int
}

// New creates a sink holding at most capacity entries. A capacity <= 0
// falls back to DefaultCapacity.
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{
		min:     LevelDebug,
		entries: make([]Entry, capacity),
	}
}

// SetLevel drops future entries below min. Already captured entries are kept.
func (s *Sink) SetLevel(min Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.min = min
}

// Append records a message at the given level, subject to level filtering.
func (s *Sink) Append(level Level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.min {
		return
	}
	s.push(Entry{Time: time.Now(), Level: level, Message: msg})
}

// Entries returns a copy of the captured history, oldest first.
func (s *Sink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, s.entries[(s.start+i)%len(s.entries)])
	}
	return out
}

// Len returns the number of captured entries.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Clear discards the captured history.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = 0
	s.count = 0
}

// push assumes s.mu is held.
func (s *Sink) push(e Entry) {
	if s.count < len(s.entries) {
		s.entries[(s.start+s.count)%len(s.entries)] = e
		s.count++
		return
	}
	s.entries[s.start] = e
	s.start = (s.start + 1) % len(s.entries)
}

// Write implements io.Writer. Lines arriving without level information are
// recorded at info.
func (s *Sink) Write(p []byte) (int, error) {
	s.Append(LevelInfo, string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

// WriteLevel implements zerolog.LevelWriter.
func (s *Sink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s.Append(fromZerolog(level), string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func fromZerolog(level zerolog.Level) Level {
	switch {
	case level <= zerolog.DebugLevel:
		return LevelDebug
	case level == zerolog.InfoLevel:
		return LevelInfo
	case level == zerolog.WarnLevel:
		return LevelWarning
	default:
		return LevelError
	}
}
