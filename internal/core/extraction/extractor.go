// Package extraction turns raw document bytes into normalized text using a
// cascading strategy per format. Each tier reports a tagged outcome and the
// driver walks the tiers until one yields acceptable text.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/memory"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

// ErrExtractionFailed is returned when every tier is exhausted without
// producing acceptable text. No partial text is persisted in that case.
var ErrExtractionFailed = errors.New("could not extract text: file may be corrupted or empty")

// Config tunes the cascade.
//
// MinTextLength:   minimum non-whitespace characters for a tier's output to
//                  be accepted before falling through to the next tier.
// MaxOCRPages:     page cap when rasterizing a PDF for OCR.
// OCRDPI:          render resolution for OCR rasterization.
// MemoryThreshold: OCR aborts early (keeping partial results) once system
//                  memory usage crosses this fraction.
type Config struct {
	MinTextLength   int
	MaxOCRPages     int
	OCRDPI          float64
	MemoryThreshold float64
}

func DefaultConfig() Config {
	return Config{
		MinTextLength:   50,
		MaxOCRPages:     10,
		OCRDPI:          150,
		MemoryThreshold: 0.80,
	}
}

type tierStatus int

const (
	tierOK tierStatus = iota
	tierTooShort
	tierError
)

// tierResult is the tagged outcome of one extraction tier.
type tierResult struct {
	status    tierStatus
	text      string
	method    string
	hasImages bool
	err       error
}

type tierFunc func(ctx context.Context, data []byte) tierResult

// CascadeExtractor implements core.FileExtractor.
type CascadeExtractor struct {
	cfg    Config
	mem    memory.Monitor
	logger *slog.Logger
}

func NewCascadeExtractor(cfg Config, mem memory.Monitor, logger *slog.Logger) *CascadeExtractor {
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultConfig().MinTextLength
	}
	if cfg.MaxOCRPages <= 0 {
		cfg.MaxOCRPages = DefaultConfig().MaxOCRPages
	}
	if cfg.OCRDPI <= 0 {
		cfg.OCRDPI = DefaultConfig().OCRDPI
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = DefaultConfig().MemoryThreshold
	}
	return &CascadeExtractor{cfg: cfg, mem: mem, logger: logger}
}

// Extract chooses the strategy for the declared file type. Plain text and
// Office documents use a single method; PDFs walk the three-tier cascade.
func (e *CascadeExtractor) Extract(ctx context.Context, data []byte, fileType string) (*core.ExtractionResult, error) {
	switch strings.ToLower(fileType) {
	case "txt", "md":
		return &core.ExtractionResult{
			Text:      Normalize(string(data)),
			Method:    models.MethodDirect,
			HasImages: false,
		}, nil
	case "docx":
		return e.runCascade(ctx, data, []tierFunc{e.docxTier})
	case "pdf":
		return e.runCascade(ctx, data, []tierFunc{e.pdfTextTier, e.docconvTier, e.ocrTier})
	default:
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}
}

// runCascade tries each tier in order until one returns tierOK. Tier errors
// are swallowed and logged; the cascade simply proceeds.
func (e *CascadeExtractor) runCascade(ctx context.Context, data []byte, tiers []tierFunc) (*core.ExtractionResult, error) {
	for _, tier := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := tier(ctx, data)
		switch res.status {
		case tierOK:
			return &core.ExtractionResult{
				Text:      Normalize(res.text),
				Method:    res.method,
				HasImages: res.hasImages,
			}, nil
		case tierTooShort:
			e.logger.Debug("extraction tier produced sub-threshold text", "method", res.method)
		case tierError:
			e.logger.Warn("extraction tier failed", "method", res.method, "error", res.err)
		}
	}
	return nil, ErrExtractionFailed
}

// acceptable reports whether text clears the minimum-content threshold,
// counting non-whitespace characters only.
func (e *CascadeExtractor) acceptable(text string) bool {
	n := 0
	for _, r := range text {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			n++
		}
		if n > e.cfg.MinTextLength {
			return true
		}
	}
	return false
}

var _ core.FileExtractor = (*CascadeExtractor)(nil)
