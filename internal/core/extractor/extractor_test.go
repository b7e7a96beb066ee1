package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomeflow/tomeflow/internal/core"
	"github.com/tomeflow/tomeflow/internal/models"
)

func TestResolveFormat(t *testing.T) {
	cases := []struct {
		contentType string
		want        models.Format
	}{
		{"application/pdf", models.FormatPDF},
		{"application/epub+zip", models.FormatEPUB},
		{"image/png", models.FormatImage},
		{"image/jpeg", models.FormatImage},
		{"APPLICATION/PDF", models.FormatPDF},
		{"application/pdf; charset=binary", models.FormatPDF},
		{" application/epub+zip ", models.FormatEPUB},
		{"text/html", models.FormatUnsupported},
		{"image/gif", models.FormatUnsupported},
		{"", models.FormatUnsupported},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveFormat(tc.contentType), "content type %q", tc.contentType)
	}
}

func TestExtractUnsupportedFormatIsNonRetryable(t *testing.T) {
	e := NewContentExtractor(NewOCREngine("eng"))

	_, err := e.Extract(context.Background(), models.FormatUnsupported,
		&core.Payload{Bytes: []byte("x"), ContentType: "text/csv"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
	assert.Equal(t, core.FailUnsupportedFormat, core.ClassOf(err))
	assert.False(t, core.Retryable(err))
	assert.Contains(t, err.Error(), "text/csv")
}

func TestExtractHonorsCancelledContext(t *testing.T) {
	e := NewContentExtractor(NewOCREngine("eng"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Extract(ctx, models.FormatPDF, &core.Payload{Bytes: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

// buildEPUB assembles a minimal valid EPUB with the given chapters in
// manifest/spine order.
func buildEPUB(t *testing.T, chapters []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name, content string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	write("mimetype", "application/epub+zip")
	write("META-INF/container.xml", `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`)

	var manifest, spine strings.Builder
	for i, body := range chapters {
		name := fmt.Sprintf("chapter%d.xhtml", i+1)
		id := fmt.Sprintf("ch%d", i+1)
		manifest.WriteString(fmt.Sprintf(`<item id=%q href=%q media-type="application/xhtml+xml"/>`, id, name))
		spine.WriteString(fmt.Sprintf(`<itemref idref=%q/>`, id))
		write("OEBPS/"+name, fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>c</title></head>
<body><p>%s</p></body></html>`, body))
	}

	write("OEBPS/content.opf", fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Test Book</dc:title>
    <dc:identifier id="uid">test-book</dc:identifier>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>%s</manifest>
  <spine>%s</spine>
</package>`, manifest.String(), spine.String()))

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractEPUBConcatenatesChaptersInSpineOrder(t *testing.T) {
	e := NewContentExtractor(NewOCREngine("eng"))
	b := buildEPUB(t, []string{"Alpha chapter.", "Beta chapter.", "Gamma chapter."})

	text, err := e.Extract(context.Background(), models.FormatEPUB,
		&core.Payload{Bytes: b, ContentType: "application/epub+zip"})
	require.NoError(t, err)

	ia := strings.Index(text, "Alpha chapter.")
	ib := strings.Index(text, "Beta chapter.")
	ig := strings.Index(text, "Gamma chapter.")
	require.GreaterOrEqual(t, ia, 0)
	require.Greater(t, ib, ia, "chapters must appear in spine order")
	require.Greater(t, ig, ib, "chapters must appear in spine order")
}

func TestExtractEPUBRejectsGarbage(t *testing.T) {
	e := NewContentExtractor(NewOCREngine("eng"))

	_, err := e.Extract(context.Background(), models.FormatEPUB,
		&core.Payload{Bytes: []byte("definitely not a zip archive")})
	require.Error(t, err)
	assert.Equal(t, core.FailExtraction, core.ClassOf(err))
	assert.True(t, core.Retryable(err))
}

func TestExtractEPUBRemovesScratchFile(t *testing.T) {
	e := NewContentExtractor(NewOCREngine("eng"))
	b := buildEPUB(t, []string{"One chapter."})

	_, err := e.Extract(context.Background(), models.FormatEPUB,
		&core.Payload{Bytes: b, ContentType: "application/epub+zip"})
	require.NoError(t, err)

	// Failure path must clean up too.
	_, _ = e.Extract(context.Background(), models.FormatEPUB,
		&core.Payload{Bytes: []byte("garbage")})

	leftovers, err := filepath.Glob(filepath.Join(os.TempDir(), "tomeflow-*.epub"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "scratch epub files must not accumulate")
}

func TestOCREngineCloseIsIdempotent(t *testing.T) {
	engine := NewOCREngine("")

	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	_, err := engine.Recognize([]byte("pixels"))
	require.Error(t, err)
	assert.Equal(t, core.FailResource, core.ClassOf(err))
}

func TestContentExtractorCloseReleasesOCR(t *testing.T) {
	engine := NewOCREngine("eng")
	e := NewContentExtractor(engine)

	require.NoError(t, e.Close())
	_, err := engine.Recognize([]byte("pixels"))
	require.Error(t, err)
}
