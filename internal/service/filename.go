package service

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxObjectBaseLen = 100

var unsafeObjectChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectName turns a client supplied filename into a safe object name.
// Directory parts are dropped and accents are folded to ASCII.
func objectName(original string) string {
	name := strings.TrimSpace(strings.ReplaceAll(original, `\`, "/"))
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		name = ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	ext = strings.ToLower(unsafeObjectChars.ReplaceAllString(ext, ""))
	if ext == "." {
		ext = ""
	}

	base = unsafeObjectChars.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-._")
	if len(base) > maxObjectBaseLen {
		base = base[:maxObjectBaseLen]
	}
	if base == "" {
		base = "file"
	}
	return base + ext
}
