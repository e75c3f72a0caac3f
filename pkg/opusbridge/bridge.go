// Package opusbridge exposes Opus decode primitives over a native codec
// module with a flat byte heap.
//
// The native library has no automatic reclamation: every decode call must
// copy its input into the module heap, run the native routine, copy the
// result back out and release both scratch allocations. Decoder keeps that
// marshaling in one place so callers only ever see Go slices.
package opusbridge

import (
	"errors"
	"fmt"
)

// Frame geometry for the voice-chat wire format: one Opus packet carries
// 60 ms of mono audio at 16 kHz.
const (
	SampleRate = 16000
	Channels   = 1
	FrameSize  = 960
)

var (
	// ErrNotLoaded is returned when a decoder is requested before the
	// native module finished loading.
	ErrNotLoaded = errors.New("opus module not loaded")

	// ErrAllocFailed is returned when the module heap cannot satisfy an
	// allocation.
	ErrAllocFailed = errors.New("opus module heap allocation failed")
)

// InitError reports a failed native decoder initialization along with the
// native error code.
type InitError struct {
	Code int32
}

func (e *InitError) Error() string {
	return fmt.Sprintf("opus decoder init failed: code %d", e.Code)
}

// Module is the narrow adapter over the native codec binding. Offsets index
// into the module's flat byte heap; 0 is the null offset.
type Module interface {
	// Alloc reserves n bytes on the module heap and returns its offset,
	// or 0 when the heap is exhausted.
	Alloc(n int32) int32

	// Free releases a previously allocated offset. Freeing 0 is a no-op.
	Free(off int32)

	// Heap returns the module's linear memory.
	Heap() []byte

	// DecoderSize returns the byte size of native decoder state.
	DecoderSize(channels int32) int32

	// DecoderInit initializes decoder state at dec. Negative return codes
	// are native errors.
	DecoderInit(dec, sampleRate, channels int32) int32

	// Decode decodes dataLen bytes at data into 16-bit PCM at pcm,
	// returning the number of samples decoded or a negative error code.
	Decode(dec, data, dataLen, pcm, frameSize int32) int32
}

// Decoder decodes Opus frames through a Module. It is not safe for
// concurrent use; the audio pipeline decodes frames strictly in order from
// a single goroutine.
type Decoder struct {
	mod        Module
	rate       int32
	channels   int32
	frameSize  int32
	state      int32
	lastDecode error
}

// NewDecoder creates a decoder bound to mod using the wire frame geometry.
// The native state is allocated lazily by Init.
func NewDecoder(mod Module) *Decoder {
	return &Decoder{
		mod:       mod,
		rate:      SampleRate,
		channels:  Channels,
		frameSize: FrameSize,
	}
}

// Init allocates and initializes native decoder state. Calling Init on an
// initialized decoder is a no-op.
func (d *Decoder) Init() error {
	if d.state != 0 {
		return nil
	}

	size := d.mod.DecoderSize(d.channels)
	if size <= 0 {
		return fmt.Errorf("opus decoder state size %d", size)
	}

	state := d.mod.Alloc(size)
	if state == 0 {
		return ErrAllocFailed
	}

	if code := d.mod.DecoderInit(state, d.rate, d.channels); code < 0 {
		d.mod.Free(state)
		return &InitError{Code: code}
	}

	d.state = state
	return nil
}

// Decode decodes one Opus frame to 16-bit PCM samples. A malformed frame
// yields an empty slice rather than an error so one bad packet cannot kill
// the stream; LastError reports what went wrong with the most recent call.
func (d *Decoder) Decode(frame []byte) []int16 {
	d.lastDecode = nil

	if d.state == 0 {
		if err := d.Init(); err != nil {
			d.lastDecode = err
			return nil
		}
	}
	if len(frame) == 0 {
		return nil
	}

	in := d.mod.Alloc(int32(len(frame)))
	if in == 0 {
		d.lastDecode = ErrAllocFailed
		return nil
	}
	defer d.mod.Free(in)

	pcm := d.mod.Alloc(d.frameSize * 2)
	if pcm == 0 {
		d.lastDecode = ErrAllocFailed
		return nil
	}
	defer d.mod.Free(pcm)

	heap := d.mod.Heap()
	copy(heap[in:], frame)

	n := d.mod.Decode(d.state, in, int32(len(frame)), pcm, d.frameSize)
	if n < 0 {
		d.lastDecode = fmt.Errorf("opus decode failed: code %d", n)
		return nil
	}

	samples := make([]int16, n)
	for i := int32(0); i < n; i++ {
		lo := heap[pcm+2*i]
		hi := heap[pcm+2*i+1]
		samples[i] = int16(lo) | int16(hi)<<8
	}
	return samples
}

// LastError returns the error behind the most recent empty Decode result,
// or nil if the last call succeeded.
func (d *Decoder) LastError() error {
	return d.lastDecode
}

// Destroy releases native decoder state. Safe to call repeatedly.
func (d *Decoder) Destroy() {
	if d.state != 0 {
		d.mod.Free(d.state)
		d.state = 0
	}
}
