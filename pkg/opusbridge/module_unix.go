//go:build linux || darwin

package opusbridge

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

// heapSize is sized for a handful of concurrent scratch buffers plus one
// decoder state block; decode scratch is under 30 KiB per call.
const heapSize = 1 << 20

// nativeModule binds libopus through dlopen. The arena plays the role of
// the module's linear memory: callers hand us offsets, we translate them to
// real pointers only for the duration of one native call.
type nativeModule struct {
	heap *arena

	decoderGetSize func(channels int32) int32
	decoderInit    func(state unsafe.Pointer, sampleRate, channels int32) int32
	decodeFrame    func(state, data unsafe.Pointer, dataLen int32, pcm unsafe.Pointer, frameSize, decodeFEC int32) int32
}

func openNative(path string) (Module, error) {
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("dlopen %s: %w", path, err)
	}

	m := &nativeModule{heap: newArena(heapSize)}
	purego.RegisterLibFunc(&m.decoderGetSize, lib, "opus_decoder_get_size")
	purego.RegisterLibFunc(&m.decoderInit, lib, "opus_decoder_init")
	purego.RegisterLibFunc(&m.decodeFrame, lib, "opus_decode")
	return m, nil
}

func (m *nativeModule) Alloc(n int32) int32 { return m.heap.Alloc(n) }
func (m *nativeModule) Free(off int32)      { m.heap.Free(off) }
func (m *nativeModule) Heap() []byte        { return m.heap.Heap() }

func (m *nativeModule) DecoderSize(channels int32) int32 {
	return m.decoderGetSize(channels)
}

func (m *nativeModule) DecoderInit(dec, sampleRate, channels int32) int32 {
	return m.decoderInit(m.ptr(dec), sampleRate, channels)
}

func (m *nativeModule) Decode(dec, data, dataLen, pcm, frameSize int32) int32 {
	return m.decodeFrame(m.ptr(dec), m.ptr(data), dataLen, m.ptr(pcm), frameSize, 0)
}

func (m *nativeModule) ptr(off int32) unsafe.Pointer {
	if off == 0 {
		return nil
	}
	return unsafe.Pointer(&m.heap.Heap()[off])
}
