package voicechat

import (
	"github.com/rs/zerolog"
)

// machine interprets control messages before they reach subscribers. It owns
// the transcript side effects of the conversation protocol: recognized user
// speech lands immediately, assistant sentences flow through the reveal.
type machine struct {
	transcript *Transcript
	reveal     *reveal
	logger     zerolog.Logger

	// Optional hooks around an assistant audio turn.
	onStreamStart func()
	onStreamEnd   func()
}

func newMachine(t *Transcript, r *reveal, logger zerolog.Logger) *machine {
	return &machine{transcript: t, reveal: r, logger: logger}
}

func (m *machine) handle(msg ControlMessage) {
	switch msg.Type {
	case TypeSTT:
		if msg.Text == "" {
			return
		}
		m.transcript.Append(KindRecognizedSpeech, msg.Text, true)
		m.logger.Info().Str("text", msg.Text).Msg("speech recognized")
	case TypeTTS:
		m.handleTTS(msg)
	default:
		m.logger.Debug().Str("type", msg.Type).Msg("unhandled control message")
	}
}

func (m *machine) handleTTS(msg ControlMessage) {
	switch msg.State {
	case StateStart:
		// A new assistant turn abandons whatever the previous one left.
		m.reveal.reset()
		if m.onStreamStart != nil {
			m.onStreamStart()
		}
		m.logger.Debug().Msg("assistant turn started")
	case StateSentenceStart:
		if msg.Text != "" {
			m.reveal.enqueue(msg.Text)
		}
	case StateStop:
		m.reveal.finalize()
		if m.onStreamEnd != nil {
			m.onStreamEnd()
		}
		m.logger.Debug().Msg("assistant turn stopped")
	default:
		m.logger.Debug().Str("state", msg.State).Msg("unhandled tts state")
	}
}
