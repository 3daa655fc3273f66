package files

import (
	"mime"
	"strings"
)

// AllowedMimeTypes lists the MIME types accepted for upload
var AllowedMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
	"video/mp4",
	"audio/mpeg",
}

var documentMarkers = []string{
	"pdf",
	"msword",
	"officedocument",
	"opendocument",
	"rtf",
}

// CategoryOf derives the category of a MIME type.
func CategoryOf(mimeType string) Category {
	mt := normalizeMimeType(mimeType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return CategoryImage
	case strings.HasPrefix(mt, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mt, "audio/"):
		return CategoryAudio
	case strings.HasPrefix(mt, "text/"):
		return CategoryDocument
	}
	for _, marker := range documentMarkers {
		if strings.Contains(mt, marker) {
			return CategoryDocument
		}
	}
	return CategoryOther
}

// IsAllowedMimeType reports whether uploads of mimeType are accepted.
func IsAllowedMimeType(mimeType string) bool {
	mt := normalizeMimeType(mimeType)
	for _, allowed := range AllowedMimeTypes {
		if mt == allowed {
			return true
		}
	}
	return false
}

// normalizeMimeType lower-cases the media type and drops parameters such as charset
func normalizeMimeType(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt, _, _ = strings.Cut(mimeType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
