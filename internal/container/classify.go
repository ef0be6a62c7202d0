package container

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

type entryKind int

const (
	kindIgnored entryKind = iota
	kindMarkdown
	kindImage
	kindManifest
)

// imageMIMETypes maps lower-case image suffixes to MIME types
var imageMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

const defaultImageMIMEType = "image/jpeg"

// pageNumberPattern matches "page_12", "Page-3" or "12_page" when "page" is a
// whole token, so "homepage_3" carries no hint.
var pageNumberPattern = regexp.MustCompile(`(?i)(?:^|[^a-z])page[_-](\d+)|(\d+)[_-]page(?:$|[^a-z])`)

// classifyEntry decides how a file entry is treated by its suffix.
func classifyEntry(name string) entryKind {
	ext := strings.ToLower(path.Ext(name))
	switch {
	case ext == ".md" || ext == ".markdown":
		return kindMarkdown
	case imageMIMETypes[ext] != "":
		return kindImage
	case ext == ".json":
		return kindManifest
	default:
		return kindIgnored
	}
}

// mimeTypeFor returns the MIME type for an image entry name
func mimeTypeFor(name string) string {
	if mt, ok := imageMIMETypes[strings.ToLower(path.Ext(name))]; ok {
		return mt
	}
	return defaultImageMIMEType
}

// inferPageNumber extracts a page number from an entry's base name. It returns
// nil when the name carries no page hint; the hint is advisory only.
func inferPageNumber(name string) *int {
	m := pageNumberPattern.FindStringSubmatch(path.Base(name))
	if m == nil {
		return nil
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}

// isDirectory reports whether an entry name denotes a directory
func isDirectory(name string) bool {
	return strings.HasSuffix(name, "/") || strings.HasSuffix(name, `\`)
}
