package utils

import (
	"path"
	"regexp"
	"strings"
)

var unsafeNameChars = regexp.MustCompile(`[^\pL\pN._\- ()]+`)

// SafeFileName reduces an untrusted upload name to something usable in a
// download header: no directories, no control or quoting characters.
func SafeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if name == "" {
		return "download"
	}
	return name
}
