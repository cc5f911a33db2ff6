package handlers

import (
	"bytes"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shellgate/shellgate/internal/config"
)

// DetectImageType classifies a buffer by its magic bytes. Anything that does
// not match a known signature, including short or empty buffers, is
// "not an image".
func DetectImageType(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "png"
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "jpg"
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF89a")) || bytes.Equal(data[:6], []byte("GIF87a"))):
		return "gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp"
	default:
		return "not an image"
	}
}

// Upload accepts a raw request body, classifies it and stores it under the
// data directory. Non-image payloads are accepted but flagged as such.
func Upload(w http.ResponseWriter, r *http.Request) {
	body, err := readRawBody(r.Body, MaxUploadSize)
	if err != nil {
		if err == ErrBodyTooLarge {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	kind := DetectImageType(body)

	uploadDir := filepath.Join(config.Cfg.DataPath, "uploads")
	if err := os.MkdirAll(uploadDir, 0700); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}

	name := uuid.New().String()
	if kind != "not an image" {
		name += "." + kind
	}
	path := filepath.Join(uploadDir, name)
	if err := os.WriteFile(path, body, 0600); err != nil {
		log.Printf("Upload write failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":          name,
		"size":        len(body),
		"image_type":  kind,
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
	})
}
