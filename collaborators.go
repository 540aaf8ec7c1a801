package pdfvalidate

import (
	"context"
	"fmt"
)

// DocumentBytesProvider is the narrow storage-read collaborator: it
// returns the raw bytes of a stored document.
type DocumentBytesProvider interface {
	DocumentBytes(ctx context.Context, id string) ([]byte, error)
}

// ValidationResultSink is the narrow persistence collaborator: it stores
// one finished validation result.
type ValidationResultSink interface {
	StoreValidationResult(ctx context.Context, id string, result *PDFValidationResult) error
}

// ValidateAndStore fetches a document, validates it, and hands the
// result to the sink. The result is returned even when storing fails.
func (e *Engine) ValidateAndStore(ctx context.Context, id string, provider DocumentBytesProvider, sink ValidationResultSink) (*PDFValidationResult, error) {
	raw, err := provider.DocumentBytes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document %q: %w", id, err)
	}

	result := e.ValidateDocument(ctx, raw)

	if sink != nil {
		if err := sink.StoreValidationResult(ctx, id, result); err != nil {
			return result, fmt.Errorf("store validation result for %q: %w", id, err)
		}
	}
	return result, nil
}
