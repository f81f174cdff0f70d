package scanning

import (
	"context"
	"log/slog"
	"time"

	"github.com/zombor/receipt-sage/internal/llm"
)

// Processor extracts one receipt from its ordered images
type Processor interface {
	ProcessReceiptImages(ctx context.Context, paths []string) Result[*StructuredReceipt]
	ProcessImages(ctx context.Context, images []Image) Result[*StructuredReceipt]
}

// Pipeline runs transcription, merge, quality check and structuring in order.
// It holds no per-receipt state and is safe for concurrent use.
type Pipeline struct {
	transcriber *Transcriber
	merger      *Merger
	verifier    *Verifier
	structurer  *Structurer
	logger      *slog.Logger
}

// Options tunes a pipeline built by NewPipeline
type Options struct {
	MaxDimension int
	Logger       *slog.Logger
}

// NewPipeline builds every stage on the same backend
func NewPipeline(backend llm.Completer, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return NewPipelineWithStages(
		NewTranscriber(backend, opts.MaxDimension, logger),
		NewMerger(backend, logger),
		NewVerifier(backend, opts.MaxDimension, logger),
		NewStructurer(backend, logger),
		logger,
	)
}

// NewPipelineWithStages composes explicit stages
func NewPipelineWithStages(t *Transcriber, m *Merger, v *Verifier, s *Structurer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{transcriber: t, merger: m, verifier: v, structurer: s, logger: logger}
}

// ProcessReceiptImages loads each path in order and processes them as one receipt.
// A path that cannot be read counts as a failed transcription of that image.
func (p *Pipeline) ProcessReceiptImages(ctx context.Context, paths []string) Result[*StructuredReceipt] {
	images := make([]Image, 0, len(paths))
	var firstFailure *Error
	for _, path := range paths {
		img, err := LoadImage(path)
		if err != nil {
			p.logger.Warn("Skipping unreadable image", "path", path, "error", err)
			if firstFailure == nil {
				firstFailure = newError(StageTranscription, ErrTranscription, "loading "+path, err)
			}
			continue
		}
		images = append(images, img)
	}

	if len(images) == 0 && firstFailure != nil {
		return Failed[*StructuredReceipt](firstFailure)
	}
	return p.ProcessImages(ctx, images)
}

// ProcessImages runs the pipeline over in-memory images. The first failing
// stage ends the run and its result is returned as is.
func (p *Pipeline) ProcessImages(ctx context.Context, images []Image) Result[*StructuredReceipt] {
	start := time.Now()
	if len(images) == 0 {
		return Failed[*StructuredReceipt](newError(StageTranscription, ErrTranscription, "no images to process", nil))
	}

	texts := make([]string, 0, len(images))
	var firstFailure Result[string]
	for i, img := range images {
		res := p.transcriber.Process(ctx, img)
		if !res.Success {
			p.logger.Warn("Dropping image after failed transcription", "image", img.Name, "index", i, "error", res.Error)
			if firstFailure.Error == nil {
				firstFailure = res
			}
			continue
		}
		texts = append(texts, res.Data)
	}
	if len(texts) == 0 {
		p.logger.Error("No image could be transcribed", "images", len(images), "error", firstFailure.Error)
		return Propagate[*StructuredReceipt](firstFailure)
	}
	p.logger.Info("Transcription complete", "images", len(images), "transcribed", len(texts), "elapsed", time.Since(start))

	text := texts[0]
	if len(texts) > 1 {
		merged := p.merger.Process(ctx, texts)
		if !merged.Success {
			p.logger.Error("Merge failed", "error", merged.Error)
			return Propagate[*StructuredReceipt](merged)
		}
		text = merged.Data
		p.logger.Info("Merge complete", "segments", len(texts), "elapsed", time.Since(start))
	}

	checked := p.verifier.Process(ctx, images[0], text)
	if !checked.Success {
		p.logger.Error("Quality check failed", "error", checked.Error)
		return Propagate[*StructuredReceipt](checked)
	}
	p.logger.Info("Quality check complete", "reference", images[0].Name, "elapsed", time.Since(start))

	structured := p.structurer.Process(ctx, checked.Data)
	if !structured.Success {
		p.logger.Error("Structuring failed", "error", structured.Error)
		return structured
	}

	p.logger.Info("Receipt processed",
		"store", structured.Data.Metadata.Store,
		"items", len(structured.Data.Items),
		"total", structured.Data.Totals.Total,
		"elapsed", time.Since(start),
	)
	return structured
}
