package voicechat

import (
	"testing"
)

func TestTranscriptAppendOrder(t *testing.T) {
	tr := NewTranscript()
	tr.Append(KindUserText, "first", true)
	tr.Append(KindRecognizedSpeech, "second", true)
	tr.Append(KindSynthesizedSpeech, "third", false)

	entries := tr.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"first", "second", "third"} {
		if entries[i].Content != want {
			t.Errorf("entry %d: expected %q, got %q", i, want, entries[i].Content)
		}
	}
	if !entries[0].IsUser || entries[2].IsUser {
		t.Error("IsUser flags not preserved")
	}
}

func TestTranscriptAppendTrimsWhitespace(t *testing.T) {
	tr := NewTranscript()
	e := tr.Append(KindUserText, "  hello  ", true)
	if e.Content != "hello" {
		t.Errorf("expected trimmed content, got %q", e.Content)
	}
	if e.ID == "" {
		t.Error("expected a generated ID")
	}
}

func TestTranscriptGrow(t *testing.T) {
	tr := NewTranscript()
	e := tr.Append(KindSynthesizedSpeech, "", false)

	if !tr.Grow(e.ID, "He") {
		t.Fatal("Grow should find the entry")
	}
	tr.Grow(e.ID, "llo")

	content, ok := tr.Content(e.ID)
	if !ok || content != "Hello" {
		t.Errorf("expected %q, got %q", "Hello", content)
	}
}

func TestTranscriptGrowUnknownID(t *testing.T) {
	tr := NewTranscript()
	if tr.Grow("nope", "x") {
		t.Error("growing an unknown ID should report false")
	}
}

func TestTranscriptClear(t *testing.T) {
	tr := NewTranscript()
	tr.Append(KindUserText, "a", true)
	tr.Append(KindUserText, "b", true)
	tr.Clear()
	if tr.Len() != 0 {
		t.Errorf("expected empty transcript, got %d entries", tr.Len())
	}
}

func TestTranscriptEntriesReturnsCopy(t *testing.T) {
	tr := NewTranscript()
	tr.Append(KindUserText, "original", true)
	entries := tr.Entries()
	entries[0].Content = "mutated"
	if tr.Entries()[0].Content != "original" {
		t.Error("Entries should return a copy")
	}
}
