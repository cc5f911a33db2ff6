package protocol

import (
	"bytes"
	"reflect"
	"testing"
	"time"
)

func TestEncodeTerminator(t *testing.T) {
	b, err := Encode(Message{Type: TypeInput, Name: "work", Data: "aGk="})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if b[len(b)-1] != '\n' {
		t.Error("expected trailing line feed")
	}
	if bytes.Count(b, []byte("\n")) != 1 {
		t.Errorf("expected exactly one line feed, got %d", bytes.Count(b, []byte("\n")))
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	msgs := []Message{
		{Type: TypeInput, Name: "dev", Data: "bHM="},
		{Type: TypeResize, Name: "dev", Cols: 120, Rows: 40},
		{Type: TypeCreate, Name: "build"},
		{Type: TypeRename, Name: "build", NewName: "deploy"},
		{Type: TypeError, Error: "session not found", Code: CodeSessionNotFound},
		{Type: TypeList, Sessions: []SessionInfo{{
			Name: "dev", Alive: true, Cols: 80, Rows: 24,
			CreatedAt: created, LastActivity: created,
		}}},
	}

	for _, want := range msgs {
		b, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", want, err)
		}
		var got []Message
		dec := NewDecoder(func(m Message) { got = append(got, m) })
		dec.Write(b)
		if len(got) != 1 {
			t.Fatalf("expected 1 decoded message, got %d", len(got))
		}
		if !reflect.DeepEqual(got[0], want) {
			t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got[0], want)
		}
	}
}

func TestDecoderChunkBoundaries(t *testing.T) {
	var got []Message
	dec := NewDecoder(func(m Message) { got = append(got, m) })

	dec.Write([]byte(`{"type":`))
	if len(got) != 0 {
		t.Fatalf("expected no message before terminator, got %d", len(got))
	}
	dec.Write([]byte("\"split\"}\n"))

	if len(got) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(got))
	}
	if got[0].Type != "split" {
		t.Errorf("expected type %q, got %q", "split", got[0].Type)
	}
}

func TestDecoderMalformedLines(t *testing.T) {
	var got []Message
	dec := NewDecoder(func(m Message) { got = append(got, m) })

	dec.Write([]byte("not-json\n{\"type\":\"ok\"}\n"))

	if len(got) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(got))
	}
	if got[0].Type != TypeOK {
		t.Errorf("expected type %q, got %q", TypeOK, got[0].Type)
	}
}

func TestDecoderEmptyLines(t *testing.T) {
	var got []Message
	dec := NewDecoder(func(m Message) { got = append(got, m) })

	dec.Write([]byte("\n\n{\"type\":\"ok\"}\n\n"))

	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
}

func TestDecoderBytesAndTextEquivalent(t *testing.T) {
	input := "{\"type\":\"input\",\"data\":\"eA==\"}\n{\"type\":\"resize\",\"cols\":10,\"rows\":5}\n"

	var fromBytes []Message
	NewDecoder(func(m Message) { fromBytes = append(fromBytes, m) }).Write([]byte(input))

	var fromText []Message
	dec := NewDecoder(func(m Message) { fromText = append(fromText, m) })
	dec.WriteString(input)

	if !reflect.DeepEqual(fromBytes, fromText) {
		t.Errorf("byte and text input diverged:\nbytes %+v\n text %+v", fromBytes, fromText)
	}
	if len(fromBytes) != 2 {
		t.Errorf("expected 2 messages, got %d", len(fromBytes))
	}
}

func TestDecoderManySmallChunks(t *testing.T) {
	payload := "{\"type\":\"output\",\"name\":\"dev\",\"data\":\"aGVsbG8=\"}\n"
	var got []Message
	dec := NewDecoder(func(m Message) { got = append(got, m) })
	for i := 0; i < len(payload); i++ {
		dec.Write([]byte{payload[i]})
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].Data != "aGVsbG8=" {
		t.Errorf("unexpected data %q", got[0].Data)
	}
}
