package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("empty response from backend")

// Image is an image already prepared for a vision call.
type Image struct {
	Data     []byte
	MIMEType string
}

// Format returns the image subtype, e.g. "png" for "image/png".
func (i Image) Format() string {
	_, format, ok := strings.Cut(i.MIMEType, "/")
	if !ok || format == "" {
		return "png"
	}
	return format
}

// Request is a single completion call. A nil Image makes it text-only.
type Request struct {
	System    string
	Prompt    string
	Image     *Image
	MaxTokens int
	// JSON asks the backend for a JSON object response when it supports one.
	JSON bool
}

// Completer is the vision/text completion backend the extraction stages call.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client is a Completer that holds resources.
type Client interface {
	Completer
	// Close releases the underlying connection
	Close() error
}
