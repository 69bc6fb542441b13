package extraction

import (
	"bytes"
	"context"
	"fmt"

	"code.sajari.com/docconv"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

const (
	mimePDF  = "application/pdf"
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// docxTier extracts Office documents with docconv's structural walk. There
// is no fallback for Office files: a sub-threshold result fails the cascade.
func (e *CascadeExtractor) docxTier(ctx context.Context, data []byte) tierResult {
	res := tierResult{method: models.MethodDocx}

	out, err := docconv.Convert(bytes.NewReader(data), mimeDocx, false)
	if err != nil {
		res.status = tierError
		res.err = fmt.Errorf("docconv docx: %w", err)
		return res
	}

	res.text = out.Body
	if !e.acceptable(res.text) {
		res.status = tierTooShort
		return res
	}
	res.status = tierOK
	return res
}

// docconvTier is tier 2 for PDFs: a more tolerant general-purpose extractor
// for files whose text layer tier 1 could not read.
func (e *CascadeExtractor) docconvTier(ctx context.Context, data []byte) tierResult {
	res := tierResult{method: models.MethodDocconv}

	out, err := docconv.Convert(bytes.NewReader(data), mimePDF, false)
	if err != nil {
		res.status = tierError
		res.err = fmt.Errorf("docconv pdf: %w", err)
		return res
	}

	res.text = out.Body
	// docconv gives no image inventory; a sparse text body is the usual
	// sign of a scanned document.
	res.hasImages = len(res.text) < 100
	if !e.acceptable(res.text) {
		res.status = tierTooShort
		return res
	}
	res.status = tierOK
	return res
}
