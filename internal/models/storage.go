package models

import (
	"path/filepath"
	"strings"
)

// StoragePolicy — ограничения, заданные для конкретного хранилища.
type StoragePolicy struct {
	MaxFileSize     int64    `json:"max_file_size,omitempty"`
	AllowExtensions []string `json:"allow_extensions,omitempty"`
	BlockExtensions []string `json:"block_extensions,omitempty"`
}

// StorageRoot описывает зарегистрированный корень хранения.
type StorageRoot struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	Policy   StoragePolicy `json:"policy"`
	Disabled bool          `json:"disabled"`
}

// SizeLimit возвращает наименьший из лимитов: глобального и лимита хранилища.
func (p StoragePolicy) SizeLimit(global int64) int64 {
	if p.MaxFileSize > 0 && (global <= 0 || p.MaxFileSize < global) {
		return p.MaxFileSize
	}
	return global
}

// AllowsName проверяет расширение файла по спискам allow/block.
func (p StoragePolicy) AllowsName(name string) bool {
	ext := normalizeExt(filepath.Ext(name))
	for _, b := range p.BlockExtensions {
		if normalizeExt(b) == ext {
			return false
		}
	}
	if len(p.AllowExtensions) == 0 {
		return true
	}
	for _, a := range p.AllowExtensions {
		if normalizeExt(a) == ext {
			return true
		}
	}
	return false
}

// ParseExtensions разбирает список расширений из строки через запятую.
func ParseExtensions(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = normalizeExt(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeExt(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
}
