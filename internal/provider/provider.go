// Package provider defines the image generation contract the studio depends
// on, along with the Gemini-backed and synthetic implementations.
//
// Images cross this boundary as base64 data URLs (see internal/imagedata).
package provider

import (
	"context"
	"errors"
	"fmt"
)

// MaxReferenceImages is the largest number of reference images a provider is
// expected to honor in one request.
const MaxReferenceImages = 4

type GenerateRequest struct {
	Prompt          string
	AspectRatio     string
	ReferenceImages []string
}

// Provider produces new images from prompts and enhances existing ones.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Upscale(ctx context.Context, image string) (string, error)
}

// Failure is a provider-reported failure with a message fit for display.
// BlockReason is set when a content policy rejected the request.
type Failure struct {
	Message     string
	BlockReason string
}

func (f *Failure) Error() string {
	return f.Message
}

func Failed(format string, args ...any) *Failure {
	return &Failure{Message: fmt.Sprintf(format, args...)}
}

func Blocked(reason string) *Failure {
	return &Failure{
		Message:     "Request blocked: " + reason,
		BlockReason: reason,
	}
}

// FailureMessage extracts the display message from err, preferring the
// provider's own wording.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Message
	}
	return err.Error()
}
