package pathguard

import (
	"strings"
	"unicode/utf8"

	"github.com/sir_venger/drive_lite/internal/models"
)

const (
	MaxNameBytes  = 255
	reservedChars = `<>:"|?*`
)

// ValidateName проверяет имя файла, пришедшее от клиента.
func ValidateName(name string) error {
	switch {
	case name == "":
		return models.Invalid("file name is empty")
	case len(name) > MaxNameBytes:
		return models.Invalid("file name longer than %d bytes", MaxNameBytes)
	case name == "." || strings.Contains(name, ".."):
		return models.Invalid("file name contains traversal sequence")
	case strings.ContainsAny(name, `/\`):
		return models.Invalid("file name contains path separator")
	case strings.ContainsAny(name, reservedChars):
		return models.Invalid("file name contains reserved character")
	case !utf8.ValidString(name):
		return models.Invalid("file name is not valid UTF-8")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return models.Invalid("file name contains control character")
		}
	}
	return nil
}

// SanitizeName превращает произвольную строку в допустимое имя файла или возвращает "".
func SanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == utf8.RuneError, r < 0x20, r == 0x7f:
			continue
		case strings.ContainsRune(reservedChars+`/\`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	out = strings.Trim(out, ". ")
	for len(out) > MaxNameBytes {
		_, size := utf8.DecodeLastRuneInString(out)
		out = out[:len(out)-size]
	}
	return out
}
