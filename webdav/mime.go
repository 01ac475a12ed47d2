package webdav

import "strings"

// mimeTypes maps a lower-cased file extension (without the dot) to its
// content type, mirroring MimeType's _mimeTypes map. Only the handful of
// extensions the original table carries are included; everything else
// falls back to application/octet-stream.
var mimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"gif":  "image/gif",
	"png":  "image/png",
	"txt":  "text/plain",
	"mp3":  "audio/mpeg",
	"html": "text/html",
	"htm":  "text/html",
	"xml":  "text/xml; charset=\"utf-8\"",
	"css":  "text/css",
	"js":   "application/javascript",
}

const maxExtLength = 4

// MimeTypeForFile returns the content type inferred from fileName's
// extension, mirroring MimeType::getMimeTypeFromFileName, or
// "application/octet-stream" when the extension is unknown or missing.
func MimeTypeForFile(fileName string) string {
	dot := strings.LastIndexByte(fileName, '.')
	if dot < 0 {
		return "application/octet-stream"
	}
	ext := fileName[dot+1:]
	if len(ext) < 1 || len(ext) > maxExtLength {
		return "application/octet-stream"
	}
	if mt, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return mt
	}
	return "application/octet-stream"
}
