package extractor

import (
	"context"
	"os"
	"strings"

	"code.sajari.com/docconv"
	"github.com/taylorskalyo/goreader/epub"

	"github.com/tomeflow/tomeflow/internal/core"
)

// extractEPUB concatenates per-chapter text in spine order, one chapter per
// line group. The archive is materialized to a scratch file because the EPUB
// parser needs random access; the file is removed on every path.
func (e *ContentExtractor) extractEPUB(ctx context.Context, b []byte) (string, error) {
	tmp, err := os.CreateTemp("", "tomeflow-*.epub")
	if err != nil {
		return "", core.Faultf(core.FailResource, "create scratch epub: %v", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return "", core.Faultf(core.FailResource, "write scratch epub: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return "", core.Faultf(core.FailResource, "close scratch epub: %v", err)
	}

	rc, err := epub.OpenReader(tmpName)
	if err != nil {
		return "", core.Faultf(core.FailExtraction, "open epub: %v", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return "", core.Faultf(core.FailExtraction, "epub has no rootfile")
	}
	book := rc.Rootfiles[0]

	var chapters []string
	for _, ref := range book.Spine.Itemrefs {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		r, err := ref.Open()
		if err != nil {
			return "", core.Faultf(core.FailExtraction, "open chapter %s: %v", ref.IDREF, err)
		}
		text, _, err := docconv.ConvertHTML(r, false)
		_ = r.Close()
		if err != nil {
			return "", core.Faultf(core.FailExtraction, "convert chapter %s: %v", ref.IDREF, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			chapters = append(chapters, text)
		}
	}

	if len(chapters) == 0 {
		return "", core.Faultf(core.FailExtraction, "epub has no text content")
	}
	return strings.Join(chapters, "\n"), nil
}
