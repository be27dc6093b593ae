package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sir_venger/drive_lite/internal/config"
	"github.com/sir_venger/drive_lite/internal/models"
)

// MemoryStore хранит реестр хранилищ только в оперативной памяти; удобно для тестов и memory://.
type MemoryStore struct {
	mu       sync.RWMutex
	storages map[string]models.StorageRoot
}

// NewMemoryStore создаёт реестр, заполненный переданными хранилищами.
func NewMemoryStore(roots ...models.StorageRoot) *MemoryStore {
	s := &MemoryStore{storages: map[string]models.StorageRoot{}}
	for _, r := range roots {
		s.storages[r.ID] = r
	}
	return s
}

// FromConfig переводит секцию storages конфигурации в доменные записи.
func FromConfig(items []config.StorageConfig) []models.StorageRoot {
	out := make([]models.StorageRoot, 0, len(items))
	for _, it := range items {
		name := it.Name
		if name == "" {
			name = it.ID
		}
		out = append(out, models.StorageRoot{
			ID:   it.ID,
			Name: name,
			Path: it.Path,
			Policy: models.StoragePolicy{
				MaxFileSize:     it.MaxFileSize,
				AllowExtensions: models.ParseExtensions(strings.Join(it.AllowExtensions, ",")),
				BlockExtensions: models.ParseExtensions(strings.Join(it.BlockExtensions, ",")),
			},
			Disabled: it.Disabled,
		})
	}
	return out
}

// Resolve возвращает активное хранилище по идентификатору.
func (s *MemoryStore) Resolve(_ context.Context, id string) (models.StorageRoot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root, ok := s.storages[id]
	if !ok || root.Disabled {
		return models.StorageRoot{}, fmt.Errorf("%w: storage %q", models.ErrNotFound, id)
	}
	return root, nil
}

// List возвращает все хранилища, отсортированные по id.
func (s *MemoryStore) List(_ context.Context) ([]models.StorageRoot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StorageRoot, 0, len(s.storages))
	for _, r := range s.storages {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save записывает (или обновляет) хранилище целиком.
func (s *MemoryStore) Save(_ context.Context, root models.StorageRoot) error {
	if strings.TrimSpace(root.ID) == "" {
		return fmt.Errorf("%w: storage id is empty", models.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storages[root.ID] = root
	return nil
}

func (s *MemoryStore) Close() {}
