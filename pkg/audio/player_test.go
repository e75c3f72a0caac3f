package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeDecoder expands every input byte to one sample carrying that byte's
// value. A frame starting with 0xFF is treated as corrupt.
type fakeDecoder struct {
	err error
}

func (d *fakeDecoder) Decode(frame []byte) []int16 {
	d.err = nil
	if len(frame) > 0 && frame[0] == 0xFF {
		d.err = errors.New("corrupt frame")
		return nil
	}
	out := make([]int16, len(frame))
	for i, b := range frame {
		out[i] = int16(b)
	}
	return out
}

func (d *fakeDecoder) LastError() error { return d.err }

// fakeSink records scheduled chunks and fires completions on demand.
type fakeSink struct {
	mu      sync.Mutex
	ready   bool
	chunks  [][]float32
	onDone  func()
	stopped int
}

func (s *fakeSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	return nil
}

func (s *fakeSink) Play(pcm []float32, onDone func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrSinkSuspended
	}
	chunk := make([]float32, len(pcm))
	copy(chunk, pcm)
	s.chunks = append(s.chunks, chunk)
	s.onDone = onDone
	return nil
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	s.onDone = nil
}

func (s *fakeSink) Close() error { return nil }

// complete fires the pending chunk completion, as the device would after
// draining the chunk.
func (s *fakeSink) complete(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	done := s.onDone
	s.onDone = nil
	s.mu.Unlock()
	if done == nil {
		t.Fatal("no chunk pending completion")
	}
	done()
}

func (s *fakeSink) chunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func (s *fakeSink) chunk(i int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[i]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BufferFrames = 3
	cfg.BufferTimeout = 40 * time.Millisecond
	cfg.BufferPoll = 2 * time.Millisecond
	cfg.MinLeadSamples = 8
	cfg.MaxChunkSamples = 4
	cfg.FadeSamples = 0
	return cfg
}

func newTestPlayer(cfg Config) (*Player, *fakeSink) {
	sink := &fakeSink{ready: true}
	p := NewPlayer(&fakeDecoder{}, sink, cfg, zerolog.Nop())
	return p, sink
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func frame(value byte, n int) []byte {
	f := make([]byte, n)
	for i := range f {
		f[i] = value
	}
	return f
}

func TestPlaybackStartsAtFrameThreshold(t *testing.T) {
	p, sink := newTestPlayer(testConfig())

	p.Push(frame(1, 4))
	p.Push(frame(2, 4))
	if p.Active() {
		t.Fatal("playback must not start below the frame threshold")
	}

	p.Push(frame(3, 4))
	waitUntil(t, "playback start", p.Active)
	waitUntil(t, "first chunk", func() bool { return sink.chunkCount() > 0 })
}

func TestPlaybackStartsOnBufferTimeout(t *testing.T) {
	p, sink := newTestPlayer(testConfig())

	// One frame is below the threshold, so only the soft deadline can
	// start playback.
	p.Push(frame(7, 12))
	waitUntil(t, "timeout playback start", func() bool { return sink.chunkCount() > 0 })

	got := sink.chunk(0)
	if len(got) != 4 {
		t.Fatalf("expected chunk of 4 samples, got %d", len(got))
	}
}

func TestFramesDecodeInArrivalOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxChunkSamples = 1000
	p, sink := newTestPlayer(cfg)

	p.Push(frame(1, 4))
	p.Push(frame(2, 4))
	p.Push(frame(3, 4))
	waitUntil(t, "chunk", func() bool { return sink.chunkCount() > 0 })

	got := sink.chunk(0)
	if len(got) != 12 {
		t.Fatalf("expected 12 samples, got %d", len(got))
	}
	want := []byte{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3}
	for i, w := range want {
		if got[i] != float32(int16(w))/0x7FFF {
			t.Fatalf("sample %d out of order: got %f, want value %d", i, got[i], w)
		}
	}
}

func TestCorruptFrameIsSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.MaxChunkSamples = 1000
	p, sink := newTestPlayer(cfg)

	p.Push(frame(0xFF, 4)) // corrupt
	p.Push(frame(5, 4))
	p.Push(frame(6, 4))
	waitUntil(t, "chunk", func() bool { return sink.chunkCount() > 0 })

	got := sink.chunk(0)
	if len(got) != 8 {
		t.Fatalf("expected 8 samples (corrupt frame dropped), got %d", len(got))
	}
	if got[0] != float32(int16(5))/0x7FFF || got[4] != float32(int16(6))/0x7FFF {
		t.Error("valid frames after a corrupt one decoded wrong")
	}
}

func TestEndOfStreamDrainsQueuedAudio(t *testing.T) {
	p, sink := newTestPlayer(testConfig())

	p.Push(frame(1, 4))
	p.Push(frame(2, 4))
	p.Push(nil) // sentinel

	waitUntil(t, "first chunk", func() bool { return sink.chunkCount() >= 1 })
	if !p.Active() {
		t.Fatal("player must stay active until queued audio is played")
	}

	sink.complete(t)
	waitUntil(t, "second chunk", func() bool { return sink.chunkCount() >= 2 })

	// Both frames must come out, in order, before teardown.
	if v := sink.chunk(0)[0]; v != float32(int16(1))/0x7FFF {
		t.Errorf("first chunk carries wrong frame: %f", v)
	}
	if v := sink.chunk(1)[0]; v != float32(int16(2))/0x7FFF {
		t.Errorf("second chunk carries wrong frame: %f", v)
	}

	sink.complete(t)
	waitUntil(t, "teardown", func() bool { return !p.Active() })
}

func TestEndOfStreamWithNothingBuffered(t *testing.T) {
	p, sink := newTestPlayer(testConfig())

	p.Push(nil)
	if p.Active() || p.Buffering() {
		t.Error("bare sentinel must tear down immediately")
	}
	if sink.chunkCount() != 0 {
		t.Error("bare sentinel must not schedule audio")
	}
}

func TestBurstWhileWaitingTriggersImmediateDecode(t *testing.T) {
	p, sink := newTestPlayer(testConfig())
	driveToWaitState(t, p, sink)

	before := sink.chunkCount()
	p.Push(frame(4, 4))
	p.Push(frame(5, 4))
	p.Push(frame(6, 4))
	waitUntil(t, "burst chunk", func() bool { return sink.chunkCount() > before })
}

// driveToWaitState plays three frames through and completes every chunk so
// the cursor is parked waiting for more data.
func driveToWaitState(t *testing.T, p *Player, sink *fakeSink) {
	t.Helper()
	p.Push(frame(1, 4))
	p.Push(frame(2, 4))
	p.Push(frame(3, 4))
	waitUntil(t, "first chunk", func() bool { return sink.chunkCount() >= 1 })

	for sink.chunkCount() < 3 {
		sink.complete(t)
		waitUntil(t, "drain", func() bool {
			sink.mu.Lock()
			defer sink.mu.Unlock()
			return sink.onDone != nil || len(sink.chunks) >= 3
		})
	}
	sink.complete(t)
	if !p.Active() {
		t.Fatal("player must keep waiting with no end-of-stream signal")
	}
}

func TestEndOfStreamInWaitStateFlushesStragglers(t *testing.T) {
	p, sink := newTestPlayer(testConfig())
	driveToWaitState(t, p, sink)
	before := sink.chunkCount()

	// Two frames stay below the burst threshold, so only the sentinel can
	// get them played.
	p.Push(frame(4, 4))
	p.Push(frame(5, 4))
	p.Push(nil)

	waitUntil(t, "straggler chunk", func() bool { return sink.chunkCount() > before })
	sink.complete(t)
	waitUntil(t, "second straggler chunk", func() bool { return sink.chunkCount() >= before+2 })

	if v := sink.chunk(before)[0]; v != float32(int16(4))/0x7FFF {
		t.Errorf("first straggler frame lost: got %f", v)
	}
	if v := sink.chunk(before + 1)[0]; v != float32(int16(5))/0x7FFF {
		t.Errorf("second straggler frame lost: got %f", v)
	}

	sink.complete(t)
	waitUntil(t, "teardown", func() bool { return !p.Active() })
}

func TestEndOfStreamInWaitStateWithNothingQueued(t *testing.T) {
	p, sink := newTestPlayer(testConfig())
	driveToWaitState(t, p, sink)
	before := sink.chunkCount()

	p.Push(nil)

	if p.Active() {
		t.Error("sentinel in the wait state must tear the stream down")
	}
	if sink.chunkCount() != before {
		t.Error("sentinel with nothing queued must not schedule audio")
	}
}

func TestSuspendedSinkRetainsFrames(t *testing.T) {
	cfg := testConfig()
	p, sink := newTestPlayer(cfg)
	sink.ready = false

	p.Push(frame(1, 4))
	p.Push(frame(2, 4))
	p.Push(frame(3, 4))

	// Give the buffering loop time to attempt playback.
	time.Sleep(3 * cfg.BufferTimeout)
	if sink.chunkCount() != 0 {
		t.Fatal("suspended sink must not receive audio")
	}

	if err := p.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	waitUntil(t, "flush after resume", func() bool { return sink.chunkCount() > 0 })
}

func TestStopSilencesSynchronously(t *testing.T) {
	p, sink := newTestPlayer(testConfig())

	p.Push(frame(1, 4))
	p.Push(frame(2, 4))
	p.Push(frame(3, 4))
	waitUntil(t, "chunk", func() bool { return sink.chunkCount() > 0 })

	p.Stop()
	if p.Active() || p.Buffering() {
		t.Error("Stop must clear playback state immediately")
	}
	sink.mu.Lock()
	stopped := sink.stopped
	sink.mu.Unlock()
	if stopped == 0 {
		t.Error("Stop must reach the sink")
	}

	// A frame pushed after Stop starts a fresh stream.
	before := sink.chunkCount()
	p.Push(frame(9, 12))
	waitUntil(t, "fresh stream", func() bool { return sink.chunkCount() > before })
}

func TestLevelTracksScheduledChunk(t *testing.T) {
	p, sink := newTestPlayer(testConfig())

	if p.Level() != 0 {
		t.Error("idle player must report zero level")
	}

	p.Push(frame(100, 4))
	p.Push(frame(100, 4))
	p.Push(frame(100, 4))
	waitUntil(t, "chunk", func() bool { return sink.chunkCount() > 0 })

	if p.Level() <= 0 {
		t.Error("level must be positive while a chunk is scheduled")
	}
}

func TestFadesShapeChunkEdges(t *testing.T) {
	cfg := testConfig()
	cfg.MaxChunkSamples = 1000
	cfg.FadeSamples = 2
	p, sink := newTestPlayer(cfg)

	p.Push(frame(100, 4))
	p.Push(frame(100, 4))
	p.Push(frame(100, 4))
	waitUntil(t, "chunk", func() bool { return sink.chunkCount() > 0 })

	got := sink.chunk(0)
	if got[0] != 0 {
		t.Errorf("fade-in must start at silence, got %f", got[0])
	}
	if got[len(got)-1] != 0 {
		t.Errorf("fade-out must end at silence, got %f", got[len(got)-1])
	}
	mid := got[len(got)/2]
	if mid == 0 {
		t.Error("chunk body must not be silenced by the fades")
	}
}
