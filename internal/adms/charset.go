package adms

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DecodeBody returns the body as UTF-8. Older firmware sends names in the
// terminal's legacy code page; those bodies are decoded as Windows-1252.
func DecodeBody(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
