package convert

import (
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const defaultExtension = ".pdf"

// Extensions the remote service accepts. Anything else is submitted as PDF.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".doc":  true,
	".pptx": true,
	".ppt":  true,
	".png":  true,
	".jpg":  true,
}

// detectExtension sniffs the document type from its leading bytes.
func detectExtension(data []byte) string {
	ext := mimetype.Detect(data).Extension()
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	if supportedExtensions[ext] {
		return ext
	}
	return defaultExtension
}

// syntheticFileName names an anonymous upload. The name is unique per call.
func syntheticFileName(data []byte) string {
	return "document_" + uuid.NewString() + detectExtension(data)
}
