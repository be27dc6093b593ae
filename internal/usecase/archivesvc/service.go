// Package archivesvc распаковывает и упаковывает архивы внутри хранилищ.
// Работа тяжёлая и блокирующая, поэтому идёт через ограниченный пул.
package archivesvc

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/pathguard"
)

type (
	StorageRegistry interface {
		Resolve(ctx context.Context, id string) (models.StorageRoot, error)
	}

	Service interface {
		Extract(ctx context.Context, storageID, dir, name string) (string, error)
		Compress(ctx context.Context, storageID, dir string, names []string, archiveName string) (string, error)
	}
)

type Deps struct {
	Registry StorageRegistry
	Log      zerolog.Logger
	Workers  int
}

type Archives struct {
	Deps
	pool *semaphore.Weighted
}

var _ Service = (*Archives)(nil)

func New(deps Deps) (*Archives, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("archivesvc: registry is required")
	}
	if deps.Workers <= 0 {
		deps.Workers = 2
	}
	return &Archives{
		Deps: deps,
		pool: semaphore.NewWeighted(int64(deps.Workers)),
	}, nil
}

// withSlot выполняет fn, заняв слот пула; ожидание слота прерывается контекстом.
func (a *Archives) withSlot(ctx context.Context, fn func() error) error {
	if err := a.pool.Acquire(ctx, 1); err != nil {
		return err
	}
	defer a.pool.Release(1)
	return fn()
}

type archiveKind int

const (
	kindZip archiveKind = iota + 1
	kindTar
	kindTarGz
)

// detectKind определяет формат по имени и возвращает имя без расширения архива.
func detectKind(name string) (archiveKind, string, bool) {
	lower := strings.ToLower(name)
	for _, c := range []struct {
		suffix string
		kind   archiveKind
	}{
		{".tar.gz", kindTarGz},
		{".tgz", kindTarGz},
		{".tar", kindTar},
		{".zip", kindZip},
	} {
		if strings.HasSuffix(lower, c.suffix) && len(name) > len(c.suffix) {
			return c.kind, name[:len(name)-len(c.suffix)], true
		}
	}
	return 0, "", false
}

// freeName подбирает имя, которого ещё нет в каталоге dir.
func freeName(dir, name, ext string) string {
	candidate := name + ext
	for i := 1; ; i++ {
		if _, err := os.Lstat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)%s", name, i, ext)
	}
}

func joinRel(dir, name string) string {
	dir = strings.Trim(strings.ReplaceAll(dir, `\`, "/"), "/")
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

// resolveEntry проверяет путь записи архива относительно каталога распаковки.
func resolveEntry(rootPath, outRel, entry string) (string, error) {
	entry = strings.ReplaceAll(entry, `\`, "/")
	if strings.HasPrefix(entry, "/") || strings.Contains(entry, ":") {
		return "", fmt.Errorf("%w: archive entry %q", models.ErrPathViolation, entry)
	}
	for _, seg := range strings.Split(entry, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: archive entry %q", models.ErrPathViolation, entry)
		}
	}
	return pathguard.Resolve(rootPath, path.Join(outRel, entry))
}
