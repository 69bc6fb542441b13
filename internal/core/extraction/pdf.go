package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/otiai10/gosseract/v2"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/memory"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

// pdfTextTier is tier 1: fast structural text-layer extraction. It also
// records whether any page carries embedded images, which is the signal
// that a sub-threshold result is probably a scanned document.
func (e *CascadeExtractor) pdfTextTier(ctx context.Context, data []byte) (res tierResult) {
	res.method = models.MethodPDFText

	// The pdf package panics on some malformed files; treat that as a
	// tier error so the cascade can fall through.
	defer func() {
		if r := recover(); r != nil {
			res.status = tierError
			res.err = fmt.Errorf("pdf text layer: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		res.status = tierError
		res.err = fmt.Errorf("open pdf: %w", err)
		return res
	}

	var parts []string
	hasImages := false

	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			res.status = tierError
			res.err = err
			return res
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		if pageHasImages(page) {
			hasImages = true
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	res.text = strings.Join(parts, "\n\n")
	res.hasImages = hasImages
	if !e.acceptable(res.text) {
		res.status = tierTooShort
		return res
	}
	res.status = tierOK
	return res
}

// pageHasImages walks the page's XObject resources looking for an Image
// subtype.
func pageHasImages(page pdf.Page) bool {
	resources := page.V.Key("Resources")
	if resources.IsNull() {
		return false
	}
	xobjects := resources.Key("XObject")
	if xobjects.IsNull() {
		return false
	}
	for _, name := range xobjects.Keys() {
		if xobjects.Key(name).Key("Subtype").Name() == "Image" {
			return true
		}
	}
	return false
}

// ocrTier is tier 3: rasterize pages and run Tesseract page-by-page. It is
// memory-heavy, which is why OCR jobs get the smallest worker pool; on top
// of that, the loop aborts early and keeps partial results once system
// memory crosses the configured threshold.
func (e *CascadeExtractor) ocrTier(ctx context.Context, data []byte) tierResult {
	res := tierResult{method: models.MethodOCR}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		res.status = tierError
		res.err = fmt.Errorf("rasterize pdf: %w", err)
		return res
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > e.cfg.MaxOCRPages {
		e.logger.Warn("truncating pdf for ocr", "pages", pages, "cap", e.cfg.MaxOCRPages)
		pages = e.cfg.MaxOCRPages
	}

	client := gosseract.NewClient()
	defer client.Close()

	var parts []string
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			res.status = tierError
			res.err = err
			return res
		}

		text, err := e.ocrPage(doc, client, i)
		if err != nil {
			e.logger.Warn("ocr failed on page", "page", i+1, "error", err)
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n[OCR failed]", i+1))
		} else if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", i+1, text))
		}

		if !memory.OK(e.mem, e.cfg.MemoryThreshold) {
			e.logger.Warn("stopping ocr early due to memory pressure", "pages_done", i+1)
			break
		}
	}

	res.text = strings.Join(parts, "\n\n")
	res.hasImages = true
	if !e.acceptable(res.text) {
		res.status = tierTooShort
		return res
	}
	res.status = tierOK
	return res
}

func (e *CascadeExtractor) ocrPage(doc *fitz.Document, client *gosseract.Client, page int) (string, error) {
	img, err := doc.ImageDPI(page, e.cfg.OCRDPI)
	if err != nil {
		return "", fmt.Errorf("render page %d: %w", page+1, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode page %d: %w", page+1, err)
	}

	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image page %d: %w", page+1, err)
	}
	return client.Text()
}
