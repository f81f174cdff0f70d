package scanning

import (
	"context"
	"log/slog"

	"github.com/zombor/receipt-sage/internal/llm"
)

const structuringMaxTokens = 4096

// Structurer converts verified receipt text into a StructuredReceipt
type Structurer struct {
	backend llm.Completer
	logger  *slog.Logger
}

// NewStructurer creates a structuring stage
func NewStructurer(backend llm.Completer, logger *slog.Logger) *Structurer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Structurer{backend: backend, logger: logger}
}

// Process asks the backend for JSON and validates it. Decode and validation
// failures keep the exact backend text in RawResponse.
func (s *Structurer) Process(ctx context.Context, text string) Result[*StructuredReceipt] {
	raw, err := s.backend.Complete(ctx, llm.Request{
		System:    structuringSystem,
		Prompt:    structuringPrompt + text,
		MaxTokens: structuringMaxTokens,
		JSON:      true,
	})
	if err != nil {
		return Failed[*StructuredReceipt](newError(StageStructuring, ErrStructuring, "requesting structured data", err))
	}

	doc, err := decodeJSONObject(raw)
	if err != nil {
		s.logger.Warn("Structuring response is not JSON", "error", err)
		return FailedWithRaw[*StructuredReceipt](newError(StageStructuring, ErrParse, "decoding backend response", err), raw)
	}

	s.canonicalizeCategories(doc)

	if err := validateReceiptDocument(doc); err != nil {
		return FailedWithRaw[*StructuredReceipt](newError(StageStructuring, ErrValidation, "checking receipt schema", err), raw)
	}

	var receipt StructuredReceipt
	if err := remarshal(doc, &receipt); err != nil {
		return FailedWithRaw[*StructuredReceipt](newError(StageStructuring, ErrValidation, "decoding receipt", err), raw)
	}
	if err := receipt.Validate(); err != nil {
		return FailedWithRaw[*StructuredReceipt](newError(StageStructuring, ErrValidation, "checking items", err), raw)
	}

	return Succeeded(&receipt)
}

// canonicalizeCategories rewrites item categories onto the fixed list in place
func (s *Structurer) canonicalizeCategories(doc map[string]any) {
	items, ok := doc["items"].([]any)
	if !ok {
		return
	}
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		label, ok := item["category"].(string)
		if !ok {
			// Left for the schema to reject
			continue
		}
		category, known := CanonicalCategory(label)
		if !known {
			s.logger.Warn("Unknown item category", "category", label, "product", item["product"], "mapped_to", category)
		}
		item["category"] = string(category)
	}
}
