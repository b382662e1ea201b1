package media

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// Kind groups the MIME types the pre-processor knows how to handle.
type Kind int

const (
	KindUnsupported Kind = iota
	KindImage
	KindVideo
	KindVector
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindVector:
		return "vector"
	}
	return "unsupported"
}

var extraTypes = map[string]string{
	".eps":  "application/postscript",
	".ai":   "application/postscript",
	".webp": "image/webp",
	".mov":  "video/quicktime",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// DetectMIME guesses a file's MIME type from its extension, falling back to
// content sniffing of head.
func DetectMIME(filename string, head []byte) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.Index(t, ";"); i >= 0 {
			t = t[:i]
		}
		return t
	}
	if len(head) > 0 {
		t := http.DetectContentType(head)
		if i := strings.Index(t, ";"); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}

// Classify maps a MIME type to a Kind.
func Classify(mimeType string) Kind {
	switch {
	case mimeType == "image/jpeg", mimeType == "image/png", mimeType == "image/gif", mimeType == "image/webp":
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case mimeType == "application/pdf", mimeType == "application/postscript":
		return KindVector
	}
	return KindUnsupported
}
