// Package pathguard приводит клиентские логические пути к абсолютным путям,
// гарантированно лежащим внутри корня хранилища.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sir_venger/drive_lite/internal/models"
)

// сколько раз раскрываем percent-encoding при поиске обхода (%252e%252e и т.п.)
const maxUnescapeRounds = 3

// Resolve возвращает канонический абсолютный путь внутри root для requested.
// Пустой requested означает сам root. Несуществующие пути проверяются по
// ближайшему существующему предку.
func Resolve(root, requested string) (string, error) {
	base, err := Canonical(root)
	if err != nil {
		return "", err
	}

	if strings.ContainsRune(requested, 0) {
		return "", models.Invalid("path contains NUL byte")
	}

	rel := strings.ReplaceAll(requested, `\`, "/")
	if hasTraversal(rel) {
		return "", violation(requested)
	}
	for i, cur := 0, rel; i < maxUnescapeRounds; i++ {
		dec, err := url.PathUnescape(cur)
		if err != nil || dec == cur {
			break
		}
		if hasTraversal(strings.ReplaceAll(dec, `\`, "/")) {
			return "", violation(requested)
		}
		cur = dec
	}

	rel = strings.TrimLeft(rel, "/")
	if rel == "" {
		return base, nil
	}
	joined := filepath.Join(base, filepath.FromSlash(rel))

	_, err = os.Lstat(joined)
	switch {
	case err == nil:
		canon, err := filepath.EvalSymlinks(joined)
		if err != nil || !within(base, canon) {
			return "", violation(requested)
		}
		return canon, nil
	case errors.Is(err, fs.ErrNotExist):
		return resolveMissing(base, joined, requested)
	default:
		return "", violation(requested)
	}
}

// resolveMissing проверяет ближайшего существующего предка и достраивает хвост пути.
func resolveMissing(base, joined, requested string) (string, error) {
	ancestor := joined
	var tail []string
	for {
		tail = append(tail, filepath.Base(ancestor))
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return "", violation(requested)
		}
		ancestor = parent
		_, err := os.Lstat(ancestor)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", violation(requested)
		}
	}

	canon, err := filepath.EvalSymlinks(ancestor)
	if err != nil || !within(base, canon) {
		return "", violation(requested)
	}

	out := canon
	for i := len(tail) - 1; i >= 0; i-- {
		out = filepath.Join(out, tail[i])
	}
	return out, nil
}

// Canonical возвращает канонический путь корня; корень обязан существовать и быть каталогом.
func Canonical(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("%w: storage root is empty", models.ErrNotFound)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: storage root: %v", models.ErrNotFound, err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: storage root %s", models.ErrNotFound, root)
	}
	fi, err := os.Stat(canon)
	if err != nil || !fi.IsDir() {
		return "", fmt.Errorf("%w: storage root %s is not a directory", models.ErrNotFound, root)
	}
	return canon, nil
}

// RelTo возвращает путь abs относительно root в слэш-нотации ("" для самого корня).
func RelTo(root, abs string) (string, error) {
	base, err := Canonical(root)
	if err != nil {
		return "", err
	}
	if !within(base, abs) {
		return "", violation(abs)
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", violation(abs)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// within — сравнение по границе сегмента: /data/foo2 не лежит внутри /data/foo.
func within(base, p string) bool {
	if p == base {
		return true
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

func hasTraversal(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func violation(requested string) error {
	return fmt.Errorf("%w: %q", models.ErrPathViolation, requested)
}
