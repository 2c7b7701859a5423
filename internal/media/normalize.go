package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrBadPayload indicates an inline payload that is neither a data URL, nor
// valid base64, nor raw bytes.
var ErrBadPayload = errors.New("media: invalid inline payload")

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "bmp": true,
	"tif": true, "tiff": true, "gif": true,
}

// mimePrefix builds the "<type>/<ext>;base64," prefix the storage service
// expects in front of the payload.
func mimePrefix(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		ext = "bin"
	}
	if imageExtensions[ext] {
		return "image/" + ext + ";base64,"
	}
	return "application/" + ext + ";base64,"
}

// Normalize turns any accepted payload shape (a data URL, raw base64, or
// an already MIME-prefixed value) into the MIME-prefixed base64 form. The
// operation is stable: normalizing an already normalized payload returns it
// unchanged.
func Normalize(payload, filename string) (string, error) {
	raw, err := StripToBase64(payload)
	if err != nil {
		return "", err
	}
	return mimePrefix(filename) + raw, nil
}

// NormalizeBytes encodes raw bytes into the MIME-prefixed base64 form.
func NormalizeBytes(data []byte, filename string) string {
	return mimePrefix(filename) + base64.StdEncoding.EncodeToString(data)
}

// StripToBase64 reduces a payload to bare base64: data URLs and prefixed
// forms lose everything up to the comma, plain strings are validated as
// base64 and returned as-is.
func StripToBase64(payload string) (string, error) {
	if idx := strings.Index(payload, "base64,"); idx >= 0 {
		payload = payload[idx+len("base64,"):]
	}
	if payload == "" {
		return "", fmt.Errorf("%w: empty payload", ErrBadPayload)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return payload, nil
}

// IsURL reports whether the payload already references hosted content.
func IsURL(payload string) bool {
	return strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://")
}

// DecodedSizeMB estimates the decoded size of a base64 payload in
// megabytes.
func DecodedSizeMB(base64Len int) float64 {
	return float64(base64Len) * 0.75 / (1024 * 1024)
}
