package audio

import (
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// MalgoSink plays chunks through a miniaudio playback device. It starts
// suspended: the device is only created and started on Resume, mirroring
// platforms that refuse audio output before an explicit user action.
type MalgoSink struct {
	sampleRate int
	channels   int
	logger     zerolog.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	started bool
	pending []byte
	onDone  func()
}

// NewMalgoSink creates a suspended sink for the given PCM format.
func NewMalgoSink(sampleRate, channels int, logger zerolog.Logger) *MalgoSink {
	return &MalgoSink{
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger,
	}
}

// Ready reports whether the playback device is running.
func (s *MalgoSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Resume creates and starts the playback device. Safe to call repeatedly.
func (s *MalgoSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.ctx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return err
		}
		s.ctx = ctx
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(s.channels)
	deviceConfig.SampleRate = uint32(s.sampleRate)
	deviceConfig.Alsa.NoMMap = 1 // Better compatibility on some systems

	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onSamples,
	})
	if err != nil {
		return err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return err
	}

	s.device = device
	s.started = true
	s.logger.Info().Int("sample_rate", s.sampleRate).Msg("audio output started")
	return nil
}

// Play schedules one chunk. The completion callback fires from a goroutine
// once the device has consumed the last byte of the chunk.
func (s *MalgoSink) Play(pcm []float32, onDone func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrSinkSuspended
	}
	s.pending = Float32ToInt16Bytes(pcm)
	s.onDone = onDone
	return nil
}

// Stop drops the pending chunk without firing its completion callback. The
// device keeps running and outputs silence.
func (s *MalgoSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.onDone = nil
}

// Close tears down the device and context.
func (s *MalgoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
	s.started = false
	s.pending = nil
	s.onDone = nil
	return nil
}

// onSamples feeds the device from the pending chunk, padding with silence
// when the chunk runs short.
func (s *MalgoSink) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if pOutput == nil {
		return
	}

	s.mu.Lock()
	n := copy(pOutput, s.pending)
	s.pending = s.pending[n:]

	var done func()
	if len(s.pending) == 0 && s.onDone != nil {
		done = s.onDone
		s.onDone = nil
	}
	s.mu.Unlock()

	for i := n; i < len(pOutput); i++ {
		pOutput[i] = 0
	}

	if done != nil {
		// Completion runs off the audio thread; the player may schedule
		// the next chunk from inside it.
		go done()
	}
}
