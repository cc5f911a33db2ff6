package handlers

import (
	"io"
	"strings"
	"testing"
)

func TestReadRawBodyUnderLimit(t *testing.T) {
	input := strings.Repeat("a", 40)
	got, err := readRawBody(strings.NewReader(input), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != input {
		t.Errorf("body mangled: got %d bytes", len(got))
	}
}

func TestReadRawBodyAtLimit(t *testing.T) {
	input := strings.Repeat("b", 50)
	got, err := readRawBody(strings.NewReader(input), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != input {
		t.Errorf("body mangled at exact limit")
	}
}

func TestReadRawBodyOverLimit(t *testing.T) {
	input := strings.Repeat("c", 100)
	_, err := readRawBody(strings.NewReader(input), 50)
	if err == nil {
		t.Fatal("expected error for oversized body")
	}
	if err.Error() != "Body too large" {
		t.Errorf("error message must be exactly %q, got %q", "Body too large", err.Error())
	}
}

func TestReadRawBodyChunked(t *testing.T) {
	// MultiReader delivers the payload in pieces; the result must be the
	// exact concatenation.
	r := io.MultiReader(strings.NewReader("hello "), strings.NewReader("world"))
	got, err := readRawBody(r, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestDetectImageType(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x01}, "png"},
		{"jpg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, "jpg"},
		{"gif89a", append([]byte("GIF89a"), 0x01, 0x02), "gif"},
		{"gif87a", append([]byte("GIF87a"), 0x01), "gif"},
		{"webp", append(append([]byte("RIFF"), 0x10, 0x00, 0x00, 0x00), []byte("WEBPVP8 ")...), "webp"},
		{"riff not webp", append(append([]byte("RIFF"), 0x10, 0x00, 0x00, 0x00), []byte("WAVEfmt ")...), "not an image"},
		{"plain text", []byte("hello world"), "not an image"},
		{"empty", nil, "not an image"},
		{"too short png", []byte{0x89, 0x50}, "not an image"},
		{"truncated jpg", []byte{0xFF, 0xD8}, "not an image"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectImageType(tc.data); got != tc.want {
				t.Errorf("DetectImageType(%q) = %q, want %q", tc.data, got, tc.want)
			}
		})
	}
}
