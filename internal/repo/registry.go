package repo

import (
	"context"
	"strings"

	"github.com/sir_venger/drive_lite/internal/models"
)

// Registry — реестр хранилищ, которым пользуется ядро.
type Registry interface {
	Resolve(ctx context.Context, id string) (models.StorageRoot, error)
	List(ctx context.Context) ([]models.StorageRoot, error)
	Save(ctx context.Context, root models.StorageRoot) error
	Close()
}

var (
	_ Registry = (*MemoryStore)(nil)
	_ Registry = (*PGStore)(nil)
)

// IsMemoryDSN сообщает, что выбран in-memory реестр.
func IsMemoryDSN(dsn string) bool {
	dsn = strings.TrimSpace(dsn)
	return dsn == "" || strings.HasPrefix(dsn, "memory://")
}

// Open выбирает реализацию реестра по DSN. Для memory:// реестр заполняется из seed.
func Open(ctx context.Context, dsn string, seed []models.StorageRoot) (Registry, error) {
	if IsMemoryDSN(dsn) {
		return NewMemoryStore(seed...), nil
	}
	return OpenPostgres(ctx, dsn)
}
