package gateway

import (
	"mime"
	"path/filepath"
	"strings"
)

// Media types understood by the sendMedia endpoint.
const (
	MediaDocument = "document"
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaAudio    = "audio"
)

var mediaTypes = map[string]string{
	".pdf":  MediaDocument,
	".doc":  MediaDocument,
	".docx": MediaDocument,
	".xls":  MediaDocument,
	".xlsx": MediaDocument,
	".txt":  MediaDocument,
	".jpg":  MediaImage,
	".jpeg": MediaImage,
	".png":  MediaImage,
	".gif":  MediaImage,
	".mp4":  MediaVideo,
	".avi":  MediaVideo,
	".mov":  MediaVideo,
	".mp3":  MediaAudio,
	".wav":  MediaAudio,
	".ogg":  MediaAudio,
}

// MediaType returns the gateway media category for path, defaulting to document.
func MediaType(path string) string {
	if t, ok := mediaTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return MediaDocument
}

// MimeType returns the MIME type for path's extension, without parameters.
func MimeType(path string) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if t == "" {
		return "application/octet-stream"
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}
