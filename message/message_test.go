package message

import (
	"bytes"
	"strings"
	"testing"

	"github.com/user/blepeer/seqnum"
	"github.com/user/blepeer/submsg"
)

func TestSingleChunkRoundTrip(t *testing.T) {
	m := New("a", []byte("hi"), nil)
	msgID := seqnum.New(submsg.MessageIDLength)

	subs := m.SplitIntoSubMessages(msgID)
	if len(subs) != 1 {
		t.Fatalf("got %d sub-messages, want 1", len(subs))
	}
	if !subs[0].IsFinal() {
		t.Error("expected single sub-message to be FINAL")
	}
	if string(subs[0].Payload) != "ahi" {
		t.Errorf("payload = %q, want %q", subs[0].Payload, "ahi")
	}

	reassembled := Reassemble(nil, subs[0].Payload)
	if reassembled.Header != "a" || string(reassembled.Payload) != "hi" {
		t.Errorf("reassembled = header %q payload %q", reassembled.Header, reassembled.Payload)
	}
}

func TestMultiChunkSplit(t *testing.T) {
	payload := bytes.Repeat([]byte{'z'}, 500)
	m := New("x", payload, nil)
	msgID := seqnum.New(submsg.MessageIDLength)

	subs := m.SplitIntoSubMessages(msgID)
	// header(1) + 500 = 501 bytes -> chunks of 184,184,133
	if len(subs) != 3 {
		t.Fatalf("got %d sub-messages, want 3", len(subs))
	}
	wantLens := []int{184, 184, 133}
	wantTypes := []byte{submsg.NonFinal, submsg.NonFinal, submsg.Final}
	for i, sub := range subs {
		if len(sub.Payload) != wantLens[i] {
			t.Errorf("chunk %d length = %d, want %d", i, len(sub.Payload), wantLens[i])
		}
		if sub.Type != wantTypes[i] {
			t.Errorf("chunk %d type = %q, want %q", i, sub.Type, wantTypes[i])
		}
		if sub.SubSequence.String() != seqnumAt(i) {
			t.Errorf("chunk %d sub_sequence = %q, want value %d", i, sub.SubSequence, i)
		}
	}

	// reassemble
	var combined []byte
	for _, sub := range subs {
		combined = append(combined, sub.Payload...)
	}
	result := Reassemble(nil, combined)
	if result.Header != "x" {
		t.Errorf("header = %q, want %q", result.Header, "x")
	}
	if !bytes.Equal(result.Payload, payload) {
		t.Error("reassembled payload does not match original")
	}
}

func seqnumAt(i int) string {
	s := seqnum.New(submsg.SubSequenceLength)
	for j := 0; j < i; j++ {
		s.Increment()
	}
	return s.String()
}

func TestSplitThenReassembleIsIdentity(t *testing.T) {
	header := "日" // multi-byte rune, still exactly one UTF-8 character
	payload := []byte(strings.Repeat("the quick brown fox ", 50))
	m := New(header, payload, nil)
	msgID := seqnum.New(submsg.MessageIDLength)

	subs := m.SplitIntoSubMessages(msgID)
	var combined []byte
	for _, s := range subs {
		combined = append(combined, s.Payload...)
	}
	got := Reassemble(nil, combined)
	if got.Header != header {
		t.Errorf("header = %q, want %q", got.Header, header)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Error("payload mismatch after split/reassemble round trip")
	}
}

func TestNewFixesHeaderToOneRune(t *testing.T) {
	m := New("hello", []byte("x"), nil)
	if m.Header != "h" {
		t.Errorf("Header = %q, want %q", m.Header, "h")
	}
	m2 := New("", []byte("x"), nil)
	if m2.Header != " " {
		t.Errorf("empty header should pad to a space, got %q", m2.Header)
	}
}

func TestCloneCopiesPayload(t *testing.T) {
	m := New("a", []byte("hi"), nil)
	c := m.Clone()
	c.Payload[0] = 'Z'
	if m.Payload[0] == 'Z' {
		t.Error("mutating clone's payload affected original")
	}
}
