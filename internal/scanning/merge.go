package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/receipt-sage/internal/llm"
)

const mergeMaxTokens = 2048

// Merger reconciles overlapping transcriptions of one receipt
type Merger struct {
	backend llm.Completer
	logger  *slog.Logger
}

// NewMerger creates a merge stage
func NewMerger(backend llm.Completer, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{backend: backend, logger: logger}
}

// Process merges two or more transcriptions, keeping their order
func (m *Merger) Process(ctx context.Context, texts []string) Result[string] {
	if len(texts) < 2 {
		return Failed[string](newError(StageMerge, ErrMerge, fmt.Sprintf("need at least 2 segments, got %d", len(texts)), nil))
	}

	merged, err := m.backend.Complete(ctx, llm.Request{
		System:    mergeSystem,
		Prompt:    mergePrompt + strings.Join(texts, mergeSeparator),
		MaxTokens: mergeMaxTokens,
	})
	if err != nil {
		return Failed[string](newError(StageMerge, ErrMerge, fmt.Sprintf("merging %d segments", len(texts)), err))
	}
	if strings.TrimSpace(merged) == "" {
		return Failed[string](newError(StageMerge, ErrMerge, fmt.Sprintf("merging %d segments", len(texts)), llm.ErrEmptyResponse))
	}

	m.logger.Debug("Merged segments", "segments", len(texts), "chars", len(merged))
	return Succeeded(merged)
}
