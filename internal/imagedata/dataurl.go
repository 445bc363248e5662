// Package imagedata converts between raw image bytes and the base64 data URLs
// used as the encoded image payload throughout the studio.
package imagedata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const DefaultMIMEType = "image/png"

var ErrInvalidDataURL = errors.New("invalid image data url")

// Encode renders data as a base64 data URL.
func Encode(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Decode parses a base64 data URL and returns its MIME type and payload.
func Decode(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(dataURL), "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing data: scheme", ErrInvalidDataURL)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing payload separator", ErrInvalidDataURL)
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", nil, fmt.Errorf("%w: unsupported media type %q", ErrInvalidDataURL, mimeType)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty payload", ErrInvalidDataURL)
	}
	return mimeType, data, nil
}

// Validate reports whether dataURL decodes to a non-empty image payload.
func Validate(dataURL string) error {
	_, _, err := Decode(dataURL)
	return err
}

// Extension returns a file extension (with dot) suited to mimeType.
func Extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
