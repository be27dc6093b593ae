package uploadsvc

import "bytes"

// sniffLen — сколько первых байт нужно самой длинной сигнатуре (RIFF....WEBP).
const sniffLen = 12

type signatureCheck func(head []byte) bool

// signatures — закрытая таблица: тип -> проверка ведущих байт.
// Типы, которых здесь нет (включая text/*), не проверяются.
var signatures = map[string]signatureCheck{
	"image/jpeg":                   prefix("\xFF\xD8\xFF"),
	"image/jpg":                    prefix("\xFF\xD8\xFF"),
	"image/png":                    prefix("\x89PNG"),
	"image/gif":                    prefix("GIF87a", "GIF89a"),
	"image/webp":                   isWebP,
	"application/pdf":              prefix("%PDF"),
	"application/zip":              prefix("PK\x03\x04", "PK\x05\x06"),
	"application/x-zip-compressed": prefix("PK\x03\x04", "PK\x05\x06"),
}

func matchesSignature(mediaType string, head []byte) bool {
	check, ok := signatures[mediaType]
	if !ok {
		return true
	}
	return check(head)
}

func prefix(sigs ...string) signatureCheck {
	return func(head []byte) bool {
		for _, s := range sigs {
			if bytes.HasPrefix(head, []byte(s)) {
				return true
			}
		}
		return false
	}
}

func isWebP(head []byte) bool {
	return len(head) >= 12 &&
		bytes.Equal(head[:4], []byte("RIFF")) &&
		bytes.Equal(head[8:12], []byte("WEBP"))
}
