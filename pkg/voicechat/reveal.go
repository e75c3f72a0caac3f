package voicechat

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRevealInterval is the pause between revealed characters.
const DefaultRevealInterval = 50 * time.Millisecond

// reveal grows one assistant transcript entry character by character,
// simulating speech pacing. Sentences queue up and are revealed strictly in
// arrival order into the same entry until the turn is finalized.
type reveal struct {
	transcript *Transcript
	logger     zerolog.Logger
	interval   time.Duration
	plain      bool

	mu        sync.Mutex
	queue     []string
	typing    bool
	entryID   string
	finishing bool
	gen       int
}

func newReveal(t *Transcript, logger zerolog.Logger, interval time.Duration, plain bool) *reveal {
	if interval <= 0 {
		interval = DefaultRevealInterval
	}
	return &reveal{transcript: t, logger: logger, interval: interval, plain: plain}
}

// enqueue adds one sentence to the current assistant turn. The first
// sentence of a turn creates the entry.
func (r *reveal) enqueue(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.plain {
		r.ensureEntryLocked()
		r.transcript.Grow(r.entryID, text)
		return
	}
	r.queue = append(r.queue, text)
	if !r.typing {
		r.typing = true
		go r.loop(r.gen)
	}
}

// finalize marks the turn complete. The entry closes once the queue drains,
// immediately if nothing is pending.
func (r *reveal) finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.typing || len(r.queue) > 0 {
		r.finishing = true
		return
	}
	r.finishLocked()
}

// reset abandons the current turn. Already revealed characters stay in the
// transcript; queued sentences are dropped.
func (r *reveal) reset() {
	r.mu.Lock()
	r.gen++
	r.queue = nil
	r.typing = false
	r.finishing = false
	r.entryID = ""
	r.mu.Unlock()
}

// active reports whether a turn is still revealing or has sentences queued.
func (r *reveal) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typing || len(r.queue) > 0
}

func (r *reveal) ensureEntryLocked() {
	if r.entryID == "" {
		e := r.transcript.Append(KindSynthesizedSpeech, "", false)
		r.entryID = e.ID
	}
}

func (r *reveal) finishLocked() {
	if r.entryID != "" {
		if content, ok := r.transcript.Content(r.entryID); ok {
			r.logger.Debug().Str("content", content).Msg("assistant turn complete")
		}
	}
	r.entryID = ""
	r.finishing = false
}

func (r *reveal) loop(gen int) {
	for {
		r.mu.Lock()
		if r.gen != gen {
			r.mu.Unlock()
			return
		}
		if len(r.queue) == 0 {
			r.typing = false
			if r.finishing {
				r.finishLocked()
			}
			r.mu.Unlock()
			return
		}
		sentence := r.queue[0]
		r.queue = r.queue[1:]
		r.ensureEntryLocked()
		id := r.entryID
		r.mu.Unlock()

		for _, ch := range sentence {
			r.mu.Lock()
			if r.gen != gen {
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			r.transcript.Grow(id, string(ch))
			time.Sleep(r.interval)
		}
	}
}
