package convert

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectExtension(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"pdf", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"), ".pdf"},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), ".png"},
		{"jpeg", []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), ".jpg"},
		{"plain text falls back", []byte("just some words"), ".pdf"},
		{"empty falls back", nil, ".pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectExtension(tt.data))
		})
	}
}

func TestSyntheticFileName(t *testing.T) {
	pattern := regexp.MustCompile(`^document_[0-9a-f-]{36}\.pdf$`)

	a := syntheticFileName([]byte("%PDF-1.4"))
	b := syntheticFileName([]byte("%PDF-1.4"))

	assert.Regexp(t, pattern, a)
	assert.NotEqual(t, a, b)
}
