// Package audio turns a jittery stream of Opus frames into gapless playback.
//
// Frames arrive from the network in bursts. The player absorbs that jitter
// by holding the first few frames of a stream before starting, then keeps a
// decoded sample queue ahead of the sink so short gaps in delivery never
// reach the speaker. A zero-length frame marks end of stream.
package audio

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FrameDecoder decodes one encoded frame to 16-bit PCM. An empty result
// means the frame was undecodable; LastError explains the most recent one.
type FrameDecoder interface {
	Decode(frame []byte) []int16
	LastError() error
}

// Config tunes the jitter buffer and chunk scheduling.
type Config struct {
	SampleRate int
	Channels   int

	// BufferFrames is how many frames must accumulate before playback
	// starts; BufferTimeout starts playback anyway once at least one
	// frame is held, checked every BufferPoll.
	BufferFrames  int
	BufferTimeout time.Duration
	BufferPoll    time.Duration

	// MinLeadSamples must be queued before a chunk is scheduled;
	// MaxChunkSamples caps one scheduled chunk; FadeSamples is the linear
	// ramp applied at chunk edges.
	MinLeadSamples  int
	MaxChunkSamples int
	FadeSamples     int
}

// DefaultConfig returns the tuning for the 16 kHz mono voice stream:
// 3-frame (180 ms) jitter buffer with a 300 ms soft deadline, 100 ms
// scheduling lead, 1 s chunks, 20 ms fades.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		Channels:        1,
		BufferFrames:    3,
		BufferTimeout:   300 * time.Millisecond,
		BufferPoll:      50 * time.Millisecond,
		MinLeadSamples:  1600,
		MaxChunkSamples: 16000,
		FadeSamples:     320,
	}
}

// Player owns the frame queue and the playback cursor. Frames are consumed
// strictly in arrival order. All entry points are safe for concurrent use.
type Player struct {
	mu     sync.Mutex
	cfg    Config
	dec    FrameDecoder
	sink   Sink
	logger zerolog.Logger

	frames  [][]byte
	samples []float32

	buffering   bool
	playing     bool
	scheduled   bool
	endOfStream bool
	level       float64
	tap         func([]float32)

	// generation invalidates timer and sink callbacks that were issued
	// before a Stop or stream teardown.
	generation int
}

// NewPlayer creates a player decoding through dec and playing through sink.
func NewPlayer(dec FrameDecoder, sink Sink, cfg Config, logger zerolog.Logger) *Player {
	return &Player{
		cfg:    cfg,
		dec:    dec,
		sink:   sink,
		logger: logger,
	}
}

// Push hands one received frame to the player. A zero-length frame is the
// end-of-stream sentinel: with nothing buffered it tears the stream down,
// otherwise it lets playback drain everything already queued first.
func (p *Player) Push(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(frame) == 0 {
		p.handleEndOfStreamLocked()
		return
	}

	p.frames = append(p.frames, frame)

	switch {
	case !p.playing && !p.buffering:
		p.buffering = true
		go p.bufferLoop(p.generation, time.Now())
	case p.playing && !p.scheduled && len(p.frames) >= p.cfg.BufferFrames:
		// Burst arrival while the cursor is idle: decode now instead of
		// waiting for another buffering cycle.
		p.decodeQueuedLocked()
		p.scheduleLocked(true)
	}
}

// Resume activates a suspended sink and flushes any audio buffered while
// output was unavailable.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.sink.Resume(); err != nil {
		return err
	}
	if !p.playing && len(p.frames) > 0 {
		p.beginPlaybackLocked()
	}
	return nil
}

// Stop silences the sink immediately and discards all buffered state.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	p.sink.Stop()
	p.frames = nil
	p.samples = nil
	p.buffering = false
	p.playing = false
	p.scheduled = false
	p.endOfStream = false
	p.level = 0
	p.logger.Info().Msg("audio playback stopped")
}

// SetTap installs an observer that receives every chunk handed to the sink,
// after fades. The tap runs on the scheduling path and must be fast.
func (p *Player) SetTap(tap func([]float32)) {
	p.mu.Lock()
	p.tap = tap
	p.mu.Unlock()
}

// Active reports whether a stream is currently being played or drained.
func (p *Player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Buffering reports whether the initial jitter buffer is still filling.
func (p *Player) Buffering() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffering
}

// Level returns the RMS level of the chunk currently at the sink, for
// visualization. Zero when nothing is playing.
func (p *Player) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *Player) handleEndOfStreamLocked() {
	if len(p.frames) > 0 && !p.playing {
		p.beginPlaybackLocked()
	}
	if p.playing {
		p.endOfStream = true
		if !p.scheduled {
			// The cursor was waiting for more data. Straggler frames below
			// the burst threshold are still queued raw; flush them now.
			p.decodeQueuedLocked()
			p.scheduleLocked(false)
			if !p.scheduled && len(p.samples) == 0 && len(p.frames) == 0 {
				p.logger.Info().Msg("audio stream complete")
				p.teardownLocked()
			}
		}
		return
	}
	if len(p.frames) > 0 || len(p.samples) > 0 {
		// Output is suspended; keep the tail buffered for Resume.
		p.endOfStream = true
		return
	}
	p.logger.Debug().Msg("end of stream with nothing buffered")
	p.teardownLocked()
}

// bufferLoop polls until the jitter buffer is full enough or the soft
// deadline passes with at least one frame held.
func (p *Player) bufferLoop(gen int, started time.Time) {
	ticker := time.NewTicker(p.cfg.BufferPoll)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if gen != p.generation || !p.buffering {
			p.mu.Unlock()
			return
		}
		full := len(p.frames) >= p.cfg.BufferFrames
		timedOut := time.Since(started) >= p.cfg.BufferTimeout && len(p.frames) > 0
		if full || timedOut {
			if timedOut && !full {
				p.logger.Info().Int("frames", len(p.frames)).Msg("buffering deadline reached, starting playback")
			}
			p.beginPlaybackLocked()
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

func (p *Player) beginPlaybackLocked() {
	p.buffering = false
	if p.playing || len(p.frames) == 0 {
		return
	}
	if !p.sink.Ready() {
		// Output is suspended. Keep everything buffered; Resume flushes.
		p.logger.Warn().Int("frames", len(p.frames)).Msg("audio output suspended, retaining buffered frames")
		return
	}
	p.playing = true
	p.decodeQueuedLocked()
	p.scheduleLocked(true)
}

func (p *Player) decodeQueuedLocked() {
	frames := p.frames
	p.frames = nil

	for _, frame := range frames {
		pcm := p.dec.Decode(frame)
		if len(pcm) == 0 {
			if err := p.dec.LastError(); err != nil {
				p.logger.Error().Err(err).Msg("frame decode failed, skipping")
			}
			continue
		}
		p.samples = append(p.samples, Int16ToFloat32(pcm)...)
	}
}

// scheduleLocked hands the next chunk to the sink. With requireLead set it
// waits for MinLeadSamples unless the stream has already ended.
func (p *Player) scheduleLocked(requireLead bool) {
	if p.scheduled || !p.playing || len(p.samples) == 0 {
		return
	}
	if requireLead && !p.endOfStream && len(p.samples) < p.cfg.MinLeadSamples {
		return
	}

	n := len(p.samples)
	if n > p.cfg.MaxChunkSamples {
		n = p.cfg.MaxChunkSamples
	}
	chunk := make([]float32, n)
	copy(chunk, p.samples)
	p.samples = p.samples[n:]

	applyFades(chunk, p.cfg.FadeSamples)
	p.level = rms(chunk)
	p.scheduled = true
	if p.tap != nil {
		p.tap(chunk)
	}

	gen := p.generation
	if err := p.sink.Play(chunk, func() { p.chunkDone(gen) }); err != nil {
		p.scheduled = false
		p.level = 0
		p.logger.Error().Err(err).Msg("chunk scheduling failed")
	}
}

func (p *Player) chunkDone(gen int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation || !p.playing {
		return
	}
	p.scheduled = false
	p.level = 0

	switch {
	case len(p.samples) > 0:
		p.scheduleLocked(false)
	case len(p.frames) > 0:
		p.decodeQueuedLocked()
		p.scheduleLocked(!p.endOfStream)
	case p.endOfStream:
		p.logger.Info().Msg("audio stream complete")
		p.teardownLocked()
	default:
		// Wait state: hold the cursor until more frames or the sentinel
		// arrive. No timeout here.
		p.logger.Debug().Msg("waiting for more audio data")
	}
}

func (p *Player) teardownLocked() {
	p.generation++
	p.frames = nil
	p.samples = nil
	p.buffering = false
	p.playing = false
	p.scheduled = false
	p.endOfStream = false
	p.level = 0
}
