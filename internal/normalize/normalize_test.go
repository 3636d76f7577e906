package normalize

import (
	"bytes"
	"encoding/base64"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jpegText = "/9j/4AAQSkZJRgABAQAAAQABAAD/2wBDAAgGBgcGBQgHBwcJCQgKDBQNDAsLDBkSEw8U"
	pngText  = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk"
)

type stringer string

func (s stringer) String() string { return string(s) }

type label struct{ text string }

func (l *label) String() string { return l.text }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		attachment any
		mime       MimeType
		payload    string
		confidence Confidence
	}{
		{"clean jpeg", jpegText, MimeJPEG, jpegText, ConfidenceHigh},
		{"artifact prefix", "Kn/9j/4AAQSkZJRgABAQAAAQABAAD/...", MimeJPEG, "/9j/4AAQSkZJRgABAQAAAQABAAD/...", ConfidenceHigh},
		{"clean png", "iVBORw0KGgoAAAANSUhEUgAA...", MimePNG, "iVBORw0KGgoAAAANSUhEUgAA...", ConfidenceHigh},
		{"garbage before jpeg", "xyz123" + jpegText, MimeJPEG, jpegText, ConfidenceMedium},
		{"garbage before png", "@@" + pngText, MimePNG, pngText, ConfidenceMedium},
		{"double artifact", "KnKn" + jpegText, MimeJPEG, jpegText, ConfidenceMedium},
		{"no signature", "R0lGODlhAQABAIAAAP", MimeJPEG, "R0lGODlhAQABAIAAAP", ConfidenceLow},
		{"whitespace injected", "/9j/4AAQ\r\nSkZJ RgAB\tAQAA", MimeJPEG, "/9j/4AAQSkZJRgABAQAA", ConfidenceHigh},
		{"percent encoded", "%2F9j%2F4AAQSkZJRg%3D%3D", MimeJPEG, "/9j/4AAQSkZJRg==", ConfidenceHigh},
		{"plus kept when decoding", "%2F9j%2F4A+AQ", MimeJPEG, "/9j/4A+AQ", ConfidenceHigh},
		{"percent decode failure", "/9j/4AAQ%ZZ", MimeJPEG, "/9j/4AAQ%ZZ", ConfidenceHigh},
		{"escape blocked by garbage", "x%ZZ/9j/4AAQ%2F", MimeJPEG, "/9j/4AAQ/", ConfidenceMedium},
		{"escape blocked before png", "%ZZ" + pngText + "%3D", MimePNG, pngText + "=", ConfidenceMedium},
		{"stringer", stringer(pngText), MimePNG, pngText, ConfidenceHigh},
		{"raw jpeg bytes", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}, MimeJPEG, "/9j/4AAQ", ConfidenceHigh},
		{"raw png bytes", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, MimePNG, "iVBORw0KGgo=", ConfidenceHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Normalize(tt.attachment)
			assert.Equal(t, tt.mime, result.MimeType)
			assert.Equal(t, tt.payload, result.Payload)
			assert.Equal(t, tt.confidence, result.Confidence)
		})
	}
}

func TestNormalizeInvalid(t *testing.T) {
	for _, attachment := range []any{nil, "", "  \n\t", []byte{}, 42, struct{}{}, []int{1}, (*label)(nil)} {
		result := Normalize(attachment)
		assert.Equal(t, MimeInvalid, result.MimeType, "attachment %#v", attachment)
		assert.Equal(t, ConfidenceNone, result.Confidence)
		assert.Empty(t, result.Payload)
		assert.False(t, result.Valid())
		assert.Empty(t, result.DataURL())
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []any{
		jpegText,
		pngText,
		"Kn" + jpegText,
		"KnKn" + jpegText,
		"garbage" + pngText,
		"no signature at all",
		"%2F9j%2F4AAQ",
		"%25252F9j",
		"a%20b%ZZ",
		"/9j/%ZZ" + pngText,
		"x%ZZ/9j/4AAQ%2F",
		"%ZZ%ZZ" + pngText + "%252F",
		"Kn%ZZ/9j/%2F%2F",
		[]byte{0xFF, 0xD8, 0xFF, 0xDB},
		[]byte("plain bytes"),
	}
	for _, input := range inputs {
		first := Normalize(input)
		second := Normalize(first.Payload)
		if !first.Valid() {
			continue
		}
		assert.Equal(t, first.MimeType, second.MimeType, "input %q", input)
		assert.Equal(t, first.Payload, second.Payload, "input %q", input)
		if first.Confidence == ConfidenceHigh {
			assert.Equal(t, ConfidenceHigh, second.Confidence)
		}
	}
}

func TestEncodeChunkedMatchesStandardEncoding(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, size := range []int{0, 1, 2, 3, 1023, 1024, 1025, 3072, 5000} {
		data := make([]byte, size)
		rng.Read(data)
		expect := base64.StdEncoding.EncodeToString(data)
		for _, chunk := range []int{1, 7, 1000, 1024} {
			assert.Equal(t, expect, EncodeChunked(data, chunk), "size=%d chunk=%d", size, chunk)
		}
	}
}

func TestNormalizeLargeBuffer(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01, 0x23}, 1000)
	data = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, data...)
	result := Normalize(data)
	require.Equal(t, MimeJPEG, result.MimeType)
	assert.Equal(t, ConfidenceHigh, result.Confidence)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), result.Payload)
}

func TestDataURL(t *testing.T) {
	result := Normalize(pngText)
	assert.Equal(t, "data:image/png;base64,"+pngText, result.DataURL())
}

func TestConfidenceString(t *testing.T) {
	assert.Equal(t, "high", ConfidenceHigh.String())
	assert.Equal(t, "medium", ConfidenceMedium.String())
	assert.Equal(t, "low", ConfidenceLow.String())
	assert.Equal(t, "none", ConfidenceNone.String())
}
