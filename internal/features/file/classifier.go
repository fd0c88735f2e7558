package file

import (
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

var mimeCategories = func() map[string]Category {
	groups := map[Category][]string{
		CategoryDocument: {
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/vnd.ms-powerpoint",
			"application/vnd.openxmlformats-officedocument.presentationml.presentation",
			"application/vnd.oasis.opendocument.text",
			"application/vnd.oasis.opendocument.spreadsheet",
			"application/vnd.oasis.opendocument.presentation",
			"application/rtf",
			"text/rtf",
			"text/plain",
			"text/csv",
			"text/html",
			"text/markdown",
			"text/xml",
			"application/xml",
			"application/json",
		},
		CategoryImage: {
			"image/jpeg", "image/png", "image/gif", "image/webp",
			"image/bmp", "image/x-ms-bmp", "image/tiff", "image/svg+xml",
		},
		CategoryVideo: {
			"video/mp4", "video/quicktime", "video/x-msvideo",
			"video/x-matroska", "video/webm", "video/x-ms-wmv",
		},
		CategoryAudio: {
			"audio/mpeg", "audio/mp3", "audio/wav", "audio/x-wav", "audio/ogg",
			"audio/mp4", "audio/x-m4a", "audio/flac", "audio/aac",
		},
		CategoryArchive: {
			"application/zip", "application/x-zip-compressed", "application/vnd.rar",
			"application/x-rar-compressed", "application/x-7z-compressed",
			"application/x-tar", "application/gzip", "application/x-gzip",
		},
	}
	idx := make(map[string]Category)
	for cat, types := range groups {
		for _, t := range types {
			idx[t] = cat
		}
	}
	return idx
}()

var dangerousExtensions = lo.SliceToMap([]string{
	"exe", "bat", "cmd", "com", "sh", "bash", "php", "phtml", "js", "mjs",
	"vbs", "vbe", "py", "pl", "rb", "jar", "msi", "scr", "ps1", "psm1",
	"dll", "cpl", "hta", "wsf", "jsp", "asp", "aspx", "cgi",
}, func(ext string) (string, struct{}) { return ext, struct{}{} })

var allowedExtensions = map[Category][]string{
	CategoryDocument: {"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "odt", "ods", "odp", "rtf", "txt", "csv", "html", "xml", "json", "md"},
	CategoryImage:    {"jpg", "jpeg", "png", "gif", "webp", "bmp", "tiff", "tif", "svg"},
	CategoryVideo:    {"mp4", "mov", "avi", "mkv", "webm", "wmv"},
	CategoryAudio:    {"mp3", "wav", "ogg", "m4a", "flac", "aac"},
	CategoryArchive:  {"zip", "rar", "7z", "tar", "gz"},
}

var allowedIndex = func() map[string]Category {
	idx := make(map[string]Category)
	for cat, exts := range allowedExtensions {
		for _, ext := range exts {
			idx[ext] = cat
		}
	}
	return idx
}()

// Extensions with no entry here are not cross-checked against the declared MIME type.
var expectedMimeTypes = map[string][]string{
	"pdf":  {"application/pdf"},
	"doc":  {"application/msword"},
	"docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	"xls":  {"application/vnd.ms-excel"},
	"xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	"ppt":  {"application/vnd.ms-powerpoint"},
	"pptx": {"application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	"txt":  {"text/plain"},
	"csv":  {"text/csv", "text/plain", "application/vnd.ms-excel"},
	"json": {"application/json", "text/plain"},
	"xml":  {"application/xml", "text/xml"},
	"html": {"text/html"},
	"jpg":  {"image/jpeg"},
	"jpeg": {"image/jpeg"},
	"png":  {"image/png"},
	"gif":  {"image/gif"},
	"webp": {"image/webp"},
	"bmp":  {"image/bmp", "image/x-ms-bmp"},
	"tiff": {"image/tiff"},
	"tif":  {"image/tiff"},
	"svg":  {"image/svg+xml"},
	"mp4":  {"video/mp4"},
	"mov":  {"video/quicktime"},
	"webm": {"video/webm"},
	"mp3":  {"audio/mpeg", "audio/mp3"},
	"wav":  {"audio/wav", "audio/x-wav", "audio/wave"},
	"zip":  {"application/zip", "application/x-zip-compressed"},
}

var textScanned = map[string]bool{"txt": true, "csv": true, "html": true, "xml": true, "json": true}

func normalizeMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Classify maps a MIME type to its category. Unknown types are CategoryOther.
func Classify(mimeType string) Category {
	if cat, ok := mimeCategories[normalizeMime(mimeType)]; ok {
		return cat
	}
	return CategoryOther
}

func IsDangerousExtension(ext string) bool {
	_, ok := dangerousExtensions[normalizeExt(ext)]
	return ok
}

// IsAllowedExtension implements the default-deny allowlist.
func IsAllowedExtension(ext string) bool {
	_, ok := allowedIndex[normalizeExt(ext)]
	return ok
}

// ExpectedMimeTypesFor returns the acceptable MIME types for ext. An empty
// result means no cross-check applies.
func ExpectedMimeTypesFor(ext string) []string {
	return expectedMimeTypes[normalizeExt(ext)]
}

// TextScannedExtension reports whether content is pattern-scanned on upload.
func TextScannedExtension(ext string) bool {
	return textScanned[normalizeExt(ext)]
}

// ExtensionOf returns the lowercase extension of a declared file name,
// without the dot.
func ExtensionOf(name string) string {
	return normalizeExt(filepath.Ext(strings.TrimSpace(name)))
}

func mimeMatches(ext, declared string) bool {
	expected := ExpectedMimeTypesFor(ext)
	if len(expected) == 0 {
		return true
	}
	return lo.Contains(expected, normalizeMime(declared))
}
