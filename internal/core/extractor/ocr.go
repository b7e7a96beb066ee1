package extractor

import (
	"log"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/tomeflow/tomeflow/internal/core"
)

// OCREngine owns the shared Tesseract handle. The handle is created lazily on
// the first recognition and reused across extractions. Tesseract is not safe
// for concurrent recognition on one handle, so every call holds the mutex.
type OCREngine struct {
	mu       sync.Mutex
	language string
	client   *gosseract.Client
	closed   bool
}

func NewOCREngine(language string) *OCREngine {
	if language == "" {
		language = "eng"
	}
	return &OCREngine{language: language}
}

// Recognize runs OCR over one raster image and returns the recognized text.
func (e *OCREngine) Recognize(image []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", core.Faultf(core.FailResource, "ocr engine already closed")
	}

	if e.client == nil {
		client := gosseract.NewClient()
		if err := client.SetLanguage(e.language); err != nil {
			_ = client.Close()
			return "", core.Faultf(core.FailResource, "ocr language %q: %v", e.language, err)
		}
		log.Printf("ocr: engine initialized (language=%s)", e.language)
		e.client = client
	}

	if err := e.client.SetImageFromBytes(image); err != nil {
		return "", core.Faultf(core.FailExtraction, "ocr set image: %v", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return "", core.Faultf(core.FailExtraction, "ocr recognize: %v", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", core.Faultf(core.FailExtraction, "ocr recognize: empty text")
	}
	return text, nil
}

// Close releases the engine process. Idempotent; recognition after Close
// fails with a resource fault rather than resurrecting the handle.
func (e *OCREngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	if err != nil {
		return core.Faultf(core.FailResource, "ocr close: %v", err)
	}
	return nil
}
