package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := NewWavBuffer(pcm, 16000)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Error("expected RIFF prefix")
	}
	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Error("expected WAVE format identifier")
	}
	if expected := 44 + len(pcm); len(wav) != expected {
		t.Errorf("expected length %d, got %d", expected, len(wav))
	}

	rate := binary.LittleEndian.Uint32(wav[24:28])
	if rate != 16000 {
		t.Errorf("expected sample rate 16000, got %d", rate)
	}
}

func TestNewWavBufferFromSamples(t *testing.T) {
	wav := NewWavBufferFromSamples([]float32{0, 0.5, -0.5, 1}, 16000)

	if expected := 44 + 8; len(wav) != expected {
		t.Errorf("expected length %d, got %d", expected, len(wav))
	}
	first := int16(binary.LittleEndian.Uint16(wav[44:46]))
	if first != 0 {
		t.Errorf("expected silent first sample, got %d", first)
	}
	last := int16(binary.LittleEndian.Uint16(wav[50:52]))
	if last != 0x7FFF {
		t.Errorf("expected full-scale last sample, got %d", last)
	}
}
