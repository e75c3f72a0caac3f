package audio

import "errors"

// ErrSinkSuspended is returned when a chunk is scheduled on a sink whose
// output has not been resumed yet.
var ErrSinkSuspended = errors.New("audio sink suspended")

// Sink is the platform audio output the player schedules decoded chunks
// into. Implementations own the device/graph details; the player only sees
// chunk scheduling and completion.
//
// A sink may start suspended (for example because the platform refuses to
// produce sound before an explicit user action). While suspended, Ready
// returns false and the player holds on to buffered audio instead of
// dropping it; Resume flips the sink live.
type Sink interface {
	// Ready reports whether the sink can currently produce sound.
	Ready() bool

	// Resume activates a suspended sink.
	Resume() error

	// Play schedules one PCM chunk (float32 samples in [-1, 1]) and calls
	// onDone exactly once when the chunk has finished playing. Only one
	// chunk is in flight at a time.
	Play(pcm []float32, onDone func()) error

	// Stop silences the sink synchronously and discards the pending chunk
	// without firing its completion callback.
	Stop()

	// Close releases the underlying device.
	Close() error
}
