package extractor

import (
	"bytes"
	"context"
	"strings"

	"code.sajari.com/docconv"

	"github.com/tomeflow/tomeflow/internal/core"
	"github.com/tomeflow/tomeflow/internal/models"
)

var _ core.TextExtractor = (*ContentExtractor)(nil)

// ContentExtractor turns raw bytes plus a resolved format into plain text.
// The OCR engine is an injected, shared resource; see OCREngine for its
// locking and lifecycle rules.
type ContentExtractor struct {
	ocr *OCREngine
}

func NewContentExtractor(ocr *OCREngine) *ContentExtractor {
	return &ContentExtractor{ocr: ocr}
}

// ResolveFormat maps a declared content type onto the closed format set.
// Called once at job admission; the result travels with the job so retries
// never re-derive it.
func ResolveFormat(contentType string) models.Format {
	mediaType := contentType
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "application/pdf":
		return models.FormatPDF
	case "application/epub+zip":
		return models.FormatEPUB
	case "image/png", "image/jpeg":
		return models.FormatImage
	default:
		return models.FormatUnsupported
	}
}

// Extract dispatches on the format resolved at admission. An unsupported
// format fails with a non-retryable fault; retrying a format error would only
// burn backoff cycles.
func (e *ContentExtractor) Extract(ctx context.Context, format models.Format, payload *core.Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch format {
	case models.FormatPDF:
		return e.extractPDF(payload.Bytes)
	case models.FormatEPUB:
		return e.extractEPUB(ctx, payload.Bytes)
	case models.FormatImage:
		return e.ocr.Recognize(payload.Bytes)
	default:
		return "", core.Faultf(core.FailUnsupportedFormat, "%w: %q", core.ErrUnsupportedFormat, payload.ContentType)
	}
}

// Close releases the shared OCR engine. Safe to call more than once.
func (e *ContentExtractor) Close() error {
	return e.ocr.Close()
}

func (e *ContentExtractor) extractPDF(b []byte) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(b), "application/pdf", false)
	if err != nil {
		return "", core.Faultf(core.FailExtraction, "pdf convert: %v", err)
	}
	text := strings.TrimSpace(res.Body)
	if text == "" {
		return "", core.Faultf(core.FailExtraction, "pdf convert: empty text")
	}
	return text, nil
}
