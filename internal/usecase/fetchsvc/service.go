package fetchsvc

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sir_venger/drive_lite/internal/models"
)

const (
	defaultProgressBytes    = 1 << 20
	defaultProgressInterval = 500 * time.Millisecond
	readBufferSize          = 32 << 10
)

type (
	// StorageRegistry отдаёт корень хранилища по идентификатору.
	StorageRegistry interface {
		Resolve(ctx context.Context, id string) (models.StorageRoot, error)
	}

	// Service — операции над удалёнными загрузками.
	Service interface {
		Enqueue(ctx context.Context, req models.EnqueueRequest) ([]string, error)
		List(filter models.TaskFilter) []models.RemoteTask
		Get(taskID string) (models.RemoteTask, error)
		Cancel(taskID string) error
		Clear() int
		Counts() map[models.TaskStatus]int
	}
)

type Deps struct {
	Registry StorageRegistry
	Log      zerolog.Logger
	// Sources — схема URL -> источник. По умолчанию http и https.
	Sources          map[string]Source
	ProgressBytes    int64
	ProgressInterval time.Duration
	// MaxConcurrent ограничивает число одновременных скачиваний; 0 — без ограничений.
	MaxConcurrent int
	Now           func() time.Time
}

// Fetcher держит таблицу задач и запускает по воркеру на задачу.
type Fetcher struct {
	Deps

	mu    sync.Mutex
	tasks map[string]*task

	base  context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
	slots *semaphore.Weighted
}

// task — запись таблицы. view меняется только под Fetcher.mu.
type task struct {
	view      models.RemoteTask
	src       *url.URL
	startedAt time.Time
	cancel    context.CancelFunc
}

var _ Service = (*Fetcher)(nil)

// New конструирует оркестратор удалённых загрузок.
func New(deps Deps) (*Fetcher, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("fetchsvc: registry is required")
	}
	if len(deps.Sources) == 0 {
		httpSrc := NewHTTPSource(HTTPConfig{})
		deps.Sources = map[string]Source{"http": httpSrc, "https": httpSrc}
	}
	if deps.ProgressBytes <= 0 {
		deps.ProgressBytes = defaultProgressBytes
	}
	if deps.ProgressInterval <= 0 {
		deps.ProgressInterval = defaultProgressInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	base, stop := context.WithCancel(context.Background())
	f := &Fetcher{
		Deps:  deps,
		tasks: map[string]*task{},
		base:  base,
		stop:  stop,
	}
	if deps.MaxConcurrent > 0 {
		f.slots = semaphore.NewWeighted(int64(deps.MaxConcurrent))
	}
	return f, nil
}

// Close отменяет все воркеры и дожидается их завершения.
func (f *Fetcher) Close() {
	f.stop()
	f.wg.Wait()
}

// Get возвращает снимок одной задачи.
func (f *Fetcher) Get(taskID string) (models.RemoteTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return models.RemoteTask{}, fmt.Errorf("%w: task %q", models.ErrNotFound, taskID)
	}
	return snapshot(t), nil
}

// List возвращает задачи по фильтру, новые первыми.
func (f *Fetcher) List(filter models.TaskFilter) []models.RemoteTask {
	dir := cleanRel(filter.TargetDir)

	f.mu.Lock()
	out := make([]models.RemoteTask, 0, len(f.tasks))
	for _, t := range f.tasks {
		if filter.Status != "" && t.view.Status != filter.Status {
			continue
		}
		if filter.StorageID != "" && t.view.StorageID != filter.StorageID {
			continue
		}
		if filter.TargetDir != "" && t.view.TargetDir != dir {
			continue
		}
		out = append(out, snapshot(t))
	}
	f.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cancel отменяет активную задачу; завершённую задачу удаляет из таблицы.
func (f *Fetcher) Cancel(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: task %q", models.ErrNotFound, taskID)
	}
	if t.view.Status.Terminal() {
		delete(f.tasks, taskID)
		return nil
	}

	now := f.Now()
	t.view.Status = models.TaskCancelled
	t.view.FinishedAt = &now
	t.cancel()
	f.Log.Info().Str("op", "fetch/cancel").Str("task", taskID).Msg("remote download cancelled")
	return nil
}

// Clear удаляет все завершённые задачи и возвращает их число.
func (f *Fetcher) Clear() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for id, t := range f.tasks {
		if t.view.Status.Terminal() {
			delete(f.tasks, id)
			n++
		}
	}
	return n
}

// Counts возвращает количество задач по статусам.
func (f *Fetcher) Counts() map[models.TaskStatus]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[models.TaskStatus]int{}
	for _, t := range f.tasks {
		out[t.view.Status]++
	}
	return out
}

func snapshot(t *task) models.RemoteTask {
	v := t.view
	if v.Total != nil {
		total := *v.Total
		v.Total = &total
	}
	if v.FinishedAt != nil {
		fin := *v.FinishedAt
		v.FinishedAt = &fin
	}
	return v
}

func cleanRel(p string) string {
	p = strings.Trim(strings.ReplaceAll(p, `\`, "/"), "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
