// Package voicechat is the client core of a realtime voice conversation:
// one websocket session carrying a JSON control channel and a binary Opus
// media channel, a transcript with paced reveal of assistant speech, and a
// streaming playback pipeline behind a single facade.
package voicechat

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aivox-labs/voicechat-client/pkg/audio"
	"github.com/aivox-labs/voicechat-client/pkg/logring"
	"github.com/aivox-labs/voicechat-client/pkg/opusbridge"
)

// Options configures a Client. The zero value is usable: logs go to an
// in-memory ring, audio plays through the system output device, and all
// timings take their defaults.
type Options struct {
	// LogWriter additionally receives log output alongside the ring.
	LogWriter   io.Writer
	LogCapacity int

	// RevealInterval paces the character reveal of assistant speech.
	// PlainTranscript disables pacing and lands sentences whole.
	RevealInterval  time.Duration
	PlainTranscript bool

	Session SessionOptions
	Audio   audio.Config

	// Sink overrides the playback backend. Module overrides the codec
	// binding. Both default to the native implementations.
	Sink   audio.Sink
	Module opusbridge.Module
}

// Client is the facade over the session, transcript, protocol machine and
// audio pipeline. All methods are safe for concurrent use.
type Client struct {
	logger     zerolog.Logger
	ring       *logring.Sink
	transcript *Transcript
	reveal     *reveal
	machine    *machine
	session    *Session
	bridge     *opusbridge.Bridge
	decoder    *lazyDecoder
	player     *audio.Player
	sink       audio.Sink

	mu      sync.Mutex
	cfg     Config
	haveCfg bool
}

// audioLoadRetries bounds the attempts to bring the codec runtime up.
const audioLoadRetries = 3

// lazyDecoder defers decoder construction until the codec module has been
// loaded, so the player can exist before EnableAudio runs.
type lazyDecoder struct {
	bridge *opusbridge.Bridge

	mu      sync.Mutex
	dec     *opusbridge.Decoder
	lastErr error
}

func (l *lazyDecoder) Decode(frame []byte) []int16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dec == nil {
		dec, err := l.bridge.NewDecoder()
		if err != nil {
			l.lastErr = err
			return nil
		}
		l.dec = dec
	}
	out := l.dec.Decode(frame)
	l.lastErr = l.dec.LastError()
	return out
}

func (l *lazyDecoder) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *lazyDecoder) destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dec != nil {
		l.dec.Destroy()
		l.dec = nil
	}
}

// New creates a client with the given options.
func New(opts Options) *Client {
	capacity := opts.LogCapacity
	if capacity <= 0 {
		capacity = logring.DefaultCapacity
	}
	ring := logring.New(capacity)
	var w io.Writer = ring
	if opts.LogWriter != nil {
		w = zerolog.MultiLevelWriter(ring, opts.LogWriter)
	}
	logger := zerolog.New(w).With().Timestamp().Logger()

	transcript := NewTranscript()
	rev := newReveal(transcript, logger, opts.RevealInterval, opts.PlainTranscript)
	mach := newMachine(transcript, rev, logger)
	session := NewSession(logger, opts.Session)
	session.protocol = mach.handle
	session.onTeardown = rev.reset
	// zerolog has no success level; record connection success directly so
	// the ring reflects it the way the rest of the levels do.
	session.OnStatusChange(func(s StatusSnapshot) {
		if s.Status == StatusConnected && s.SessionID == "" {
			ring.Append(logring.LevelSuccess, "connected to server")
		}
	})

	var bridge *opusbridge.Bridge
	if opts.Module != nil {
		bridge = opusbridge.NewBridgeWithModule(opts.Module, logger)
	} else {
		bridge = opusbridge.NewBridge(logger)
	}

	sink := opts.Sink
	audioCfg := opts.Audio
	if audioCfg.SampleRate == 0 {
		audioCfg = audio.DefaultConfig()
	}
	if sink == nil {
		sink = audio.NewMalgoSink(audioCfg.SampleRate, audioCfg.Channels, logger)
	}
	decoder := &lazyDecoder{bridge: bridge}
	player := audio.NewPlayer(decoder, sink, audioCfg, logger)
	session.SetBinaryHandler(player.Push)

	c := &Client{
		logger:     logger,
		ring:       ring,
		transcript: transcript,
		reveal:     rev,
		machine:    mach,
		session:    session,
		bridge:     bridge,
		decoder:    decoder,
		player:     player,
		sink:       sink,
	}
	// A new assistant turn interrupts whatever is still draining; turn end
	// doubles as the end-of-stream signal for servers that omit the
	// zero-length media frame.
	mach.onStreamStart = player.Stop
	mach.onStreamEnd = func() { player.Push(nil) }
	return c
}

// Connect establishes the session. The configuration is remembered for
// Reconnect.
func (c *Client) Connect(ctx context.Context, cfg Config) bool {
	c.mu.Lock()
	c.cfg = cfg
	c.haveCfg = true
	c.mu.Unlock()
	return c.session.Connect(ctx, cfg)
}

// Disconnect closes the session cleanly and stops playback. It reports
// whether a connection or pending reconnection was actually torn down.
func (c *Client) Disconnect() bool {
	closed := c.session.Disconnect()
	c.player.Stop()
	return closed
}

// Reconnect tears down and redials with the last configuration.
func (c *Client) Reconnect(ctx context.Context) bool {
	c.mu.Lock()
	cfg := c.cfg
	have := c.haveCfg
	c.mu.Unlock()
	if !have {
		c.logger.Error().Msg("reconnect without prior connect")
		return false
	}
	return c.session.Reconnect(ctx, cfg)
}

// SendText submits one user utterance and records it in the transcript.
func (c *Client) SendText(text string) bool {
	if !c.session.SendText(text) {
		return false
	}
	c.transcript.Append(KindUserText, text, true)
	return true
}

// StartRecording asks the server to begin speech capture for this session.
func (c *Client) StartRecording() error {
	if !c.session.SendControl(ControlMessage{Type: TypeSTT, State: StateStart}) {
		return ErrNotConnected
	}
	c.logger.Info().Msg("recording started")
	return nil
}

// StopRecording ends server-side speech capture.
func (c *Client) StopRecording() error {
	if !c.session.SendControl(ControlMessage{Type: TypeSTT, State: StateStop}) {
		return ErrNotConnected
	}
	c.logger.Info().Msg("recording stopped")
	return nil
}

// EnableAudio activates the playback sink and loads the codec runtime,
// retrying the load a bounded number of times.
func (c *Client) EnableAudio(ctx context.Context) error {
	if err := c.player.Resume(); err != nil {
		c.logger.Error().Err(err).Msg("audio output unavailable")
		return err
	}
	var lastErr error
	for i := 0; i < audioLoadRetries; i++ {
		if err := c.bridge.Load(ctx); err != nil {
			lastErr = err
			c.logger.Warn().Err(err).Int("attempt", i+1).Msg("codec load failed")
			continue
		}
		return nil
	}
	c.logger.Error().Err(lastErr).Msg("codec unavailable, giving up")
	return ErrAudioUnavailable
}

// OnMessage registers a control message subscriber; the returned handle
// removes it via OffMessage.
func (c *Client) OnMessage(h MessageHandler) int { return c.session.OnMessage(h) }

// OffMessage removes a message subscriber.
func (c *Client) OffMessage(id int) { c.session.OffMessage(id) }

// OnStatusChange registers a status subscriber; the returned handle removes
// it via OffStatusChange.
func (c *Client) OnStatusChange(h StatusHandler) int { return c.session.OnStatusChange(h) }

// OffStatusChange removes a status subscriber.
func (c *Client) OffStatusChange(id int) { c.session.OffStatusChange(id) }

// Connected reports whether the session is open.
func (c *Client) Connected() bool { return c.session.Connected() }

// Status returns the current connection snapshot.
func (c *Client) Status() StatusSnapshot { return c.session.Status() }

// Transcript returns the conversation history in arrival order.
func (c *Client) Transcript() []Entry { return c.transcript.Entries() }

// ClearTranscript drops the conversation history.
func (c *Client) ClearTranscript() { c.transcript.Clear() }

// Level returns the audio output level for visualization.
func (c *Client) Level() float64 { return c.player.Level() }

// SetAudioTap installs an observer over decoded playback audio.
func (c *Client) SetAudioTap(tap func([]float32)) { c.player.SetTap(tap) }

// Logs returns a copy of the retained log entries.
func (c *Client) Logs() []logring.Entry { return c.ring.Entries() }

// SetLogLevel drops future entries below the given level.
func (c *Client) SetLogLevel(level logring.Level) { c.ring.SetLevel(level) }

// ClearLogs empties the retained log.
func (c *Client) ClearLogs() { c.ring.Clear() }

// Close disconnects and releases the audio pipeline.
func (c *Client) Close() error {
	c.session.Disconnect()
	c.player.Stop()
	c.decoder.destroy()
	return c.sink.Close()
}
