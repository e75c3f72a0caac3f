package voicechat

import (
	"time"
)

// Config identifies the streaming endpoint and the device connecting to it.
// DeviceID, DeviceName/MACAddress and Token become query parameters on the
// connection URL when present.
type Config struct {
	Endpoint   string
	DeviceID   string
	DeviceName string
	MACAddress string
	Token      string
}

// Status is the connection lifecycle state of a session.
type Status string

const (
	StatusDisconnected      Status = "disconnected"
	StatusConnecting        Status = "connecting"
	StatusConnected         Status = "connected"
	StatusError             Status = "error"
	StatusTimeout           Status = "timeout"
	StatusReconnectWait     Status = "reconnect_wait"
	StatusReconnectFailed   Status = "reconnect_failed"
	StatusDisconnectedClean Status = "disconnected_clean"
)

// StatusSnapshot is the immutable view handed to status-change handlers.
// RetryIn carries the countdown in whole seconds and is only meaningful
// while Status is StatusReconnectWait.
type StatusSnapshot struct {
	Connected   bool
	Status      Status
	RetryIn     int
	ConnectedAt *time.Time
	SessionID   string
}

// ControlMessage is one parsed text frame of the conversation protocol.
// Type discriminates the event; State refines it for tts/listen events.
type ControlMessage struct {
	Type      string `json:"type"`
	State     string `json:"state,omitempty"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Wire constants for ControlMessage fields.
const (
	TypeSTT    = "stt"
	TypeTTS    = "tts"
	TypeListen = "listen"

	StateStart         = "start"
	StateStop          = "stop"
	StateText          = "text"
	StateSentenceStart = "sentence_start"
)

// MessageHandler receives every parsed control message.
type MessageHandler func(ControlMessage)

// StatusHandler receives a snapshot on every connection state transition.
type StatusHandler func(StatusSnapshot)

// BinaryHandler receives every binary media frame. A zero-length frame is
// the end-of-stream sentinel.
type BinaryHandler func([]byte)

// EntryKind classifies a transcript entry.
type EntryKind string

const (
	KindRecognizedSpeech  EntryKind = "stt"
	KindSynthesizedSpeech EntryKind = "tts"
	KindUserText          EntryKind = "text"
	KindSystem            EntryKind = "system"
)

// Entry is one transcript message. Content only ever grows while an
// assistant turn is being revealed; after the turn ends it is immutable.
type Entry struct {
	ID        string
	Content   string
	Kind      EntryKind
	IsUser    bool
	CreatedAt time.Time
}
