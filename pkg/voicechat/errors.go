package voicechat

import "errors"

var (
	// ErrNotConnected is returned by operations that need an open session.
	ErrNotConnected = errors.New("voicechat: not connected")

	// ErrAudioUnavailable is returned when the decoder runtime could not be
	// loaded after retries.
	ErrAudioUnavailable = errors.New("voicechat: audio runtime unavailable")
)
