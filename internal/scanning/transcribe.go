package scanning

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zombor/receipt-sage/internal/llm"
)

const transcriptionMaxTokens = 4096

// Transcriber turns one receipt image into raw text
type Transcriber struct {
	backend      llm.Completer
	maxDimension int
	logger       *slog.Logger
}

// NewTranscriber creates a transcription stage. A non-positive maxDimension uses DefaultMaxDimension.
func NewTranscriber(backend llm.Completer, maxDimension int, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &Transcriber{backend: backend, maxDimension: maxDimension, logger: logger}
}

// Process makes exactly one vision call. It never retries.
func (t *Transcriber) Process(ctx context.Context, img Image) Result[string] {
	prepared, err := PrepareImage(img, t.maxDimension)
	if err != nil {
		return Failed[string](newError(StageTranscription, ErrTranscription, "preparing image "+img.Name, err))
	}

	text, err := t.backend.Complete(ctx, llm.Request{
		System:    transcriptionSystem,
		Prompt:    transcriptionPrompt,
		Image:     &prepared,
		MaxTokens: transcriptionMaxTokens,
	})
	if err != nil {
		return Failed[string](newError(StageTranscription, ErrTranscription, "transcribing "+img.Name, err))
	}
	if strings.TrimSpace(text) == "" {
		return Failed[string](newError(StageTranscription, ErrTranscription, "transcribing "+img.Name, llm.ErrEmptyResponse))
	}

	t.logger.Debug("Transcribed image", "image", img.Name, "chars", len(text))
	return Succeeded(text)
}
