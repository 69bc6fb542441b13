package core

import "context"

// ExtractionResult is the outcome of a successful text extraction.
type ExtractionResult struct {
	Text      string
	Method    string
	HasImages bool
}

// FileExtractor extracts text from raw document bytes. The fileType hint
// (pdf, docx, txt, md) selects the parsing strategy.
type FileExtractor interface {
	Extract(ctx context.Context, data []byte, fileType string) (*ExtractionResult, error)
}
