package container

import (
	"fmt"
	"strings"
	"time"

	"github.com/spherical/doc-converter/internal/domain"
)

// NoContentMarkdown is used when a container holds neither text nor images.
const NoContentMarkdown = "# Converted Document\n\nNo readable content was found in the conversion result.\n"

// imageListMarkdown lists the images of a container that had no text.
func imageListMarkdown(images []domain.ExtractedImage) string {
	var b strings.Builder
	b.WriteString("# Converted Document\n\n")

	noun := "images"
	if len(images) == 1 {
		noun = "image"
	}
	fmt.Fprintf(&b, "## Found %d %s\n\n", len(images), noun)

	for _, img := range images {
		if img.PageNumber != nil {
			fmt.Fprintf(&b, "- %s (page %d)\n", img.Name, *img.PageNumber)
		} else {
			fmt.Fprintf(&b, "- %s\n", img.Name)
		}
	}

	b.WriteString("\nNo text content was extracted; the document appears to contain only images.\n")
	return b.String()
}

// ErrorMarkdown renders a readable error document for a result that could
// not be opened.
func ErrorMarkdown(err error) string {
	return fmt.Sprintf("# Conversion Error\n\nThe conversion finished, but its result could not be read.\n\n```\n%v\n```\n", err)
}

// ErrorResult wraps ErrorMarkdown in a result with no images and one page.
func ErrorResult(err error, at time.Time) *domain.ConversionResult {
	text := ErrorMarkdown(err)
	return &domain.ConversionResult{
		Markdown: text,
		Images:   []domain.ExtractedImage{},
		Metadata: domain.ResultMetadata{
			PageCount:           1,
			Title:               extractTitle(text),
			ProcessingTimestamp: at,
		},
	}
}

// extractTitle returns the text of the first top-level heading, or nil.
func extractTitle(markdown string) *string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "# ") && !strings.HasPrefix(line, "#\t") {
			continue
		}
		title := strings.TrimSpace(line[1:])
		if title == "" {
			continue
		}
		return &title
	}
	return nil
}
