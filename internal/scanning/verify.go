package scanning

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zombor/receipt-sage/internal/llm"
)

const qualityCheckMaxTokens = 4096

// Verifier re-checks the numbers in a transcription against the source image
type Verifier struct {
	backend      llm.Completer
	maxDimension int
	logger       *slog.Logger
}

// NewVerifier creates a quality-check stage
func NewVerifier(backend llm.Completer, maxDimension int, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &Verifier{backend: backend, maxDimension: maxDimension, logger: logger}
}

// Process returns candidate unchanged when the backend confirms it,
// otherwise the corrected text the backend sent back
func (v *Verifier) Process(ctx context.Context, img Image, candidate string) Result[string] {
	prepared, err := PrepareImage(img, v.maxDimension)
	if err != nil {
		return Failed[string](newError(StageQualityCheck, ErrQualityCheck, "preparing image "+img.Name, err))
	}

	resp, err := v.backend.Complete(ctx, llm.Request{
		System:    qualityCheckSystem,
		Prompt:    qualityCheckPrompt + candidate,
		Image:     &prepared,
		MaxTokens: qualityCheckMaxTokens,
	})
	if err != nil {
		return Failed[string](newError(StageQualityCheck, ErrQualityCheck, "verifying against "+img.Name, err))
	}

	resp = strings.TrimSpace(resp)
	if resp == "" {
		return Failed[string](newError(StageQualityCheck, ErrQualityCheck, "verifying against "+img.Name, llm.ErrEmptyResponse))
	}
	if isVerified(resp) {
		v.logger.Debug("Transcription verified", "image", img.Name)
		return Succeeded(candidate)
	}

	v.logger.Info("Transcription corrected by quality check", "image", img.Name)
	return Succeeded(resp)
}

func isVerified(resp string) bool {
	return len(resp) >= len(verifiedSentinel) && strings.EqualFold(resp[:len(verifiedSentinel)], verifiedSentinel)
}
