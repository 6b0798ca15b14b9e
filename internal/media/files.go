package media

import (
	"path/filepath"
	"strings"

	"orion-gateway/internal/event"
)

var extensions = map[string]string{
	"image/jpeg":             ".jpg",
	"image/png":              ".png",
	"image/gif":              ".gif",
	"image/webp":             ".webp",
	"video/mp4":              ".mp4",
	"video/3gpp":             ".3gp",
	"video/quicktime":        ".mov",
	"audio/ogg":              ".ogg",
	"audio/ogg; codecs=opus": ".ogg",
	"audio/mpeg":             ".mp3",
	"audio/mp4":              ".m4a",
	"audio/aac":              ".aac",
	"application/pdf":        ".pdf",
	"application/zip":        ".zip",
	"application/msword":     ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.ms-excel":                                                  ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.ms-powerpoint":                                             ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"text/plain": ".txt",
	"text/csv":   ".csv",
}

// Checked in order; the first matching prefix wins.
var prefixExtensions = []struct{ prefix, ext string }{
	{"image/jpeg", ".jpg"},
	{"image/png", ".png"},
	{"image/webp", ".webp"},
	{"audio/ogg", ".ogg"},
	{"audio/mpeg", ".mp3"},
	{"video/", ".mp4"},
	{"audio/", ".m4a"},
}

func extension(mimetype string) string {
	if ext, ok := extensions[mimetype]; ok {
		return ext
	}
	for _, p := range prefixExtensions {
		if strings.HasPrefix(mimetype, p.prefix) {
			return p.ext
		}
	}
	return ""
}

// buildFilename keeps the original name of documents, otherwise derives one
// from the mimetype.
func buildFilename(ref event.MediaRef) string {
	if ref.Filename != "" {
		name := filepath.Base(ref.Filename)
		if filepath.Ext(name) == "" {
			name += extension(ref.Mimetype)
		}
		return sanitizeFilename(name)
	}
	return "media" + extension(ref.Mimetype)
}

var unsafeChars = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
)

func sanitizeFilename(name string) string {
	name = unsafeChars.Replace(name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

func sanitizeJID(jid string) string {
	s := strings.ReplaceAll(jid, "@", "_at_")
	return sanitizeFilename(s)
}
