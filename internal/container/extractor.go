// Package container extracts markdown and images from conversion result
// archives without assuming a fixed layout.
package container

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/observability"
)

// maxEntryBytes bounds a single decompressed entry.
const maxEntryBytes = 256 << 20

// Stats counts what an extraction saw
type Stats struct {
	Entries     int
	Directories int
	Markdown    int
	Images      int
	Manifests   int
	Ignored     int
	Failed      int
}

// Extractor turns result container bytes into a ConversionResult. It keeps no
// state between calls and is safe for concurrent use.
type Extractor struct {
	logger zerolog.Logger
	newID  func() string
	now    func() time.Time
}

// NewExtractor creates a new container extractor
func NewExtractor(logger zerolog.Logger) *Extractor {
	return &Extractor{
		logger: observability.Component(logger, "container"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Extract reads every entry of the archive. Failures on individual entries are
// logged and skipped; only an archive that cannot be opened at all returns an
// error, of kind MalformedContainer.
func (e *Extractor) Extract(data []byte) (*domain.ConversionResult, error) {
	result, stats, err := e.extract(data)
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Int("entries", stats.Entries).
		Int("markdown", stats.Markdown).
		Int("images", stats.Images).
		Int("manifests", stats.Manifests).
		Int("ignored", stats.Ignored).
		Int("failed", stats.Failed).
		Int("page_count", result.Metadata.PageCount).
		Msg("Container extracted")

	return result, nil
}

func (e *Extractor) extract(data []byte) (*domain.ConversionResult, Stats, error) {
	var stats Stats

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, stats, domain.NewError(domain.KindMalformedContainer, "open container", err)
	}

	var markdown strings.Builder
	images := make([]domain.ExtractedImage, 0)

	for _, f := range zr.File {
		stats.Entries++

		if isDirectory(f.Name) || f.FileInfo().IsDir() {
			stats.Directories++
			continue
		}

		kind := classifyEntry(f.Name)
		if kind == kindIgnored {
			stats.Ignored++
			continue
		}

		content, err := readEntry(f)
		if err != nil {
			stats.Failed++
			e.logger.Warn().Err(err).Str("entry", f.Name).Msg("Skipping unreadable entry")
			continue
		}

		switch kind {
		case kindMarkdown:
			stats.Markdown++
			appendFragment(&markdown, e.decodeText(f.Name, content))

		case kindImage:
			stats.Images++
			images = append(images, domain.ExtractedImage{
				ID:         e.newID(),
				Name:       f.Name,
				MimeType:   mimeTypeFor(f.Name),
				Data:       content,
				PageNumber: inferPageNumber(f.Name),
			})

		case kindManifest:
			stats.Manifests++
			e.inspectManifest(f.Name, content)
		}
	}

	text := markdown.String()
	switch {
	case strings.TrimSpace(text) != "":
	case len(images) > 0:
		text = imageListMarkdown(images)
	default:
		text = NoContentMarkdown
	}

	return &domain.ConversionResult{
		Markdown: text,
		Images:   images,
		Metadata: domain.ResultMetadata{
			PageCount:           pageCount(images),
			Title:               extractTitle(text),
			ProcessingTimestamp: e.now(),
		},
	}, stats, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	if len(content) > maxEntryBytes {
		return nil, fmt.Errorf("entry exceeds %d bytes", maxEntryBytes)
	}
	return content, nil
}

// decodeText returns content as UTF-8, replacing invalid sequences.
func (e *Extractor) decodeText(name string, content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	e.logger.Warn().Str("entry", name).Msg("Markdown entry is not valid UTF-8, replacing invalid bytes")
	return strings.ToValidUTF8(string(content), "\uFFFD")
}

// inspectManifest parses structured metadata for diagnostics only.
func (e *Extractor) inspectManifest(name string, content []byte) {
	var blocks []struct {
		Type    string `json:"type"`
		PageIdx *int   `json:"page_idx"`
	}
	if err := json.Unmarshal(content, &blocks); err != nil {
		var anything any
		if err := json.Unmarshal(content, &anything); err != nil {
			e.logger.Warn().Err(err).Str("entry", name).Msg("Skipping malformed manifest")
			return
		}
		e.logger.Debug().Str("entry", name).Msg("Manifest parsed")
		return
	}

	byType := make(map[string]int)
	pages := 0
	for _, b := range blocks {
		byType[b.Type]++
		if b.PageIdx != nil && *b.PageIdx+1 > pages {
			pages = *b.PageIdx + 1
		}
	}
	e.logger.Debug().
		Str("entry", name).
		Int("blocks", len(blocks)).
		Int("pages", pages).
		Interface("block_types", byType).
		Msg("Content list parsed")
}

func appendFragment(b *strings.Builder, fragment string) {
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(fragment)
}

func pageCount(images []domain.ExtractedImage) int {
	count := 1
	for _, img := range images {
		if img.PageNumber != nil && *img.PageNumber > count {
			count = *img.PageNumber
		}
	}
	return count
}
