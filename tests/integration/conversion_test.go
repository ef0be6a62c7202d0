package integration

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/doc-converter/pkg/converter"
)

// minimalPDF is a one-page document containing the text "Hello Converter".
const minimalPDF = `%PDF-1.4
1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj
2 0 obj << /Type /Pages /Kids [3 0 R] /Count 1 >> endobj
3 0 obj << /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >> endobj
4 0 obj << /Length 52 >> stream
BT /F1 24 Tf 72 700 Td (Hello Converter) Tj ET
endstream endobj
5 0 obj << /Type /Font /Subtype /Type1 /BaseFont /Helvetica >> endobj
trailer << /Root 1 0 R >>
%%EOF
`

func init() {
	_ = godotenv.Load("../../.env")
}

// TestRemoteConversion runs a real conversion against the configured service.
// Set DOC_CONVERTER_SAMPLE to convert a specific file instead of the built-in page.
func TestRemoteConversion(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping remote conversion in short mode")
	}
	if os.Getenv("MINERU_API_TOKEN") == "" {
		t.Skip("MINERU_API_TOKEN not set")
	}

	data := []byte(minimalPDF)
	if path := os.Getenv("DOC_CONVERTER_SAMPLE"); path != "" {
		var err error
		data, err = os.ReadFile(path)
		require.NoError(t, err)
	}

	client, err := converter.NewClient()
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	result, err := client.Convert(ctx, data)
	require.NoError(t, err)

	t.Logf("Converted in %v: %d bytes of markdown, %d images, %d pages",
		time.Since(start).Round(time.Second), len(result.Markdown), len(result.Images), result.Metadata.PageCount)

	assert.NotEmpty(t, strings.TrimSpace(result.Markdown))
	assert.GreaterOrEqual(t, result.Metadata.PageCount, 1)
	assert.False(t, strings.HasPrefix(result.Markdown, "# Conversion Error"))
	for _, img := range result.Images {
		assert.NotEmpty(t, img.ID)
		assert.NotEmpty(t, img.MimeType)
	}
}

func TestRemoteConversion_BadToken(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping remote conversion in short mode")
	}
	if os.Getenv("MINERU_API_TOKEN") == "" {
		t.Skip("MINERU_API_TOKEN not set")
	}

	client, err := converter.NewClientWithConfig(&converter.Config{
		BaseURL:  os.Getenv("MINERU_BASE_URL"),
		APIToken: "invalid-token",
		MaxWait:  time.Minute,
	})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Convert(context.Background(), []byte(minimalPDF))
	require.Error(t, err)
	assert.Equal(t, converter.ErrorKind("upload_rejected"), converter.KindOf(err))
}
