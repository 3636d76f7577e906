// Package normalize recovers a renderable base64 image payload from a raw
// broker attachment.
//
// Normalize never fails: inputs it cannot interpret are reported with
// MimeInvalid. Recovery is signature based and heuristic. The "Kn" strip rule
// works around a two-character artifact seen in front of JPEG payloads from
// an upstream encoder; it applies to exactly that prefix and nothing else.
package normalize

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

type MimeType string

const (
	MimeJPEG    MimeType = "image/jpeg"
	MimePNG     MimeType = "image/png"
	MimeInvalid MimeType = "invalid"
)

type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "none"
	}
}

const (
	// JPEGSignature is the base64 text of the bytes FF D8 FF.
	JPEGSignature = "/9j/"
	// PNGSignature is the base64 text of the PNG magic 89 50 4E 47 0D 0A.
	PNGSignature = "iVBORw0K"

	artifactPrefix = "Kn"

	// ChunkSize bounds how many input bytes are handed to the encoder per write.
	ChunkSize = 1024
)

// Result is the outcome of normalizing one attachment.
type Result struct {
	MimeType   MimeType
	Payload    string
	Confidence Confidence
}

// Valid reports whether the attachment could be interpreted at all.
func (r Result) Valid() bool {
	return r.MimeType != MimeInvalid
}

// DataURL renders the payload as a data URL, or "" when invalid.
func (r Result) DataURL() string {
	if !r.Valid() {
		return ""
	}
	return fmt.Sprintf("data:%s;base64,%s", r.MimeType, r.Payload)
}

var invalid = Result{MimeType: MimeInvalid, Confidence: ConfidenceNone}

// Normalize classifies and cleans an attachment. Accepted shapes are string,
// []byte and fmt.Stringer; anything else is invalid.
func Normalize(attachment any) Result {
	var text string
	switch v := attachment.(type) {
	case nil:
		return invalid
	case []byte:
		text = EncodeChunked(v, ChunkSize)
	case string:
		text = cleanText(v)
	case fmt.Stringer:
		str, ok := stringOf(v)
		if !ok {
			return invalid
		}
		text = cleanText(str)
	default:
		return invalid
	}
	if text == "" {
		return invalid
	}
	return recoverFormat(text)
}

// EncodeChunked base64-encodes data feeding the encoder at most chunkSize
// bytes at a time. The streaming encoder carries partial groups across
// writes, so the output equals a single-call encoding.
func EncodeChunked(data []byte, chunkSize int) string {
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	var buf bytes.Buffer
	buf.Grow(base64.StdEncoding.EncodedLen(len(data)))
	encoder := base64.NewEncoder(base64.StdEncoding, &buf)
	for start := 0; start < len(data); start += chunkSize {
		end := min(start+chunkSize, len(data))
		// bytes.Buffer writes never fail
		_, _ = encoder.Write(data[start:end])
	}
	_ = encoder.Close()
	return buf.String()
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// cleanText strips whitespace and percent-decodes until the text is stable.
// Each successful decode shortens the text, so the loop terminates; a failed
// decode keeps the text as it was.
func cleanText(s string) string {
	s = stripSpace(s)
	for strings.Contains(s, "%") {
		decoded, err := url.PathUnescape(s)
		if err != nil || decoded == s {
			break
		}
		s = stripSpace(decoded)
	}
	return s
}

// stringOf calls String, reporting false if it panics (a typed nil pointer
// for instance).
func stringOf(v fmt.Stringer) (s string, ok bool) {
	defer func() {
		if recover() != nil {
			s, ok = "", false
		}
	}()
	return v.String(), true
}

// recoverFormat repeats recovery until the payload is clean. Truncation can
// drop an undecodable escape that blocked percent decoding of the rest, so a
// truncated payload is cleaned and recovered again. Each round shortens the
// text, and the lowest confidence seen is kept.
func recoverFormat(text string) Result {
	result := recoverOnce(text)
	for {
		cleaned := cleanText(result.Payload)
		if cleaned == result.Payload {
			return result
		}
		next := recoverOnce(cleaned)
		next.Confidence = min(next.Confidence, result.Confidence)
		result = next
	}
}

func recoverOnce(text string) Result {
	if strings.HasPrefix(text, artifactPrefix+JPEGSignature) {
		text = text[len(artifactPrefix):]
	}
	if r, ok := locate(text, JPEGSignature, MimeJPEG); ok {
		return r
	}
	if r, ok := locate(text, PNGSignature, MimePNG); ok {
		return r
	}
	return Result{MimeType: MimeJPEG, Payload: text, Confidence: ConfidenceLow}
}

func locate(text, signature string, mime MimeType) (Result, bool) {
	switch i := strings.Index(text, signature); {
	case i == 0:
		return Result{MimeType: mime, Payload: text, Confidence: ConfidenceHigh}, true
	case i > 0:
		return Result{MimeType: mime, Payload: text[i:], Confidence: ConfidenceMedium}, true
	default:
		return Result{}, false
	}
}
