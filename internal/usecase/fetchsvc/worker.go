package fetchsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/pathguard"
)

// run — жизненный цикл одной задачи: Pending -> Downloading -> терминальный статус.
func (f *Fetcher) run(ctx context.Context, t *task) {
	defer f.wg.Done()
	defer t.cancel()

	if f.slots != nil {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			f.settle(t, 0, err)
			return
		}
		defer f.slots.Release(1)
	}

	f.mu.Lock()
	if t.view.Status != models.TaskPending {
		f.mu.Unlock()
		return
	}
	t.view.Status = models.TaskDownloading
	t.startedAt = f.Now()
	f.mu.Unlock()

	n, err := f.download(ctx, t)
	f.settle(t, n, err)
}

// download стримит тело в .part-файл рядом с целью и переименовывает его по окончании.
// Отмена проверяется между чтениями.
func (f *Fetcher) download(ctx context.Context, t *task) (int64, error) {
	src := f.Sources[t.src.Scheme]
	body, size, err := src.Open(ctx, t.src)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrUpstream, err)
	}
	defer body.Close()

	f.mu.Lock()
	if size >= 0 {
		t.view.Total = &size
	}
	id, storageID, rel, name := t.view.ID, t.view.StorageID, t.view.TargetDir, t.view.FileName
	f.mu.Unlock()

	root, err := f.Registry.Resolve(ctx, storageID)
	if err != nil {
		return 0, err
	}
	dest, err := pathguard.Resolve(root.Path, path.Join(rel, name))
	if err != nil {
		return 0, err
	}
	part := filepath.Join(filepath.Dir(dest), partFileName(id))

	out, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, models.Internal("create part file", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = out.Close()
			_ = os.Remove(part)
		}
	}()

	var (
		downloaded int64
		published  int64
		got        atomic.Int64
		buf        = make([]byte, readBufferSize)
	)
	stopTicker := f.tickProgress(t, &got)
	defer stopTicker()

	for {
		n, rerr := body.Read(buf)
		if ctx.Err() != nil {
			return downloaded, ctx.Err()
		}
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return downloaded, models.Internal("write part file", werr)
			}
			downloaded += int64(n)
			got.Store(downloaded)
			if downloaded-published >= f.ProgressBytes {
				f.publish(t, downloaded)
				published = downloaded
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return downloaded, ctx.Err()
			}
			return downloaded, fmt.Errorf("%w: read body: %w", models.ErrUpstream, rerr)
		}
	}

	if size >= 0 && downloaded != size {
		return downloaded, fmt.Errorf("%w: got %d of %d bytes", models.ErrUpstream, downloaded, size)
	}
	if err := out.Close(); err != nil {
		return downloaded, models.Internal("close part file", err)
	}
	if ctx.Err() != nil {
		return downloaded, ctx.Err()
	}
	if err := os.Rename(part, dest); err != nil {
		return downloaded, models.Internal("rename part file", err)
	}
	committed = true

	return downloaded, nil
}

// partFileName — имя .part-файла задачи; от имени цели не зависит.
func partFileName(taskID string) string {
	return "." + taskID + ".part"
}

// tickProgress раз в ProgressInterval публикует счётчик, даже пока Read висит на медленном источнике.
func (f *Fetcher) tickProgress(t *task, got *atomic.Int64) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(f.ProgressInterval)
		defer tick.Stop()
		var last int64
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				if n := got.Load(); n != last {
					f.publish(t, n)
					last = n
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// publish обновляет прогресс и скорость задачи.
func (f *Fetcher) publish(t *task, downloaded int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.view.Status.Terminal() {
		return
	}
	t.view.Downloaded = downloaded
	if elapsed := f.Now().Sub(t.startedAt).Seconds(); elapsed > 0 {
		t.view.Speed = int64(float64(downloaded) / elapsed)
	}
}

// settle фиксирует итог. Уже отменённую задачу статусом не трогаем, только точным счётчиком байт.
func (f *Fetcher) settle(t *task, downloaded int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t.view.Downloaded = downloaded
	if t.view.Status.Terminal() {
		return
	}

	now := f.Now()
	t.view.FinishedAt = &now
	log := f.Log.With().Str("op", "fetch/worker").Str("task", t.view.ID).Logger()

	switch {
	case err == nil:
		t.view.Status = models.TaskCompleted
		if elapsed := now.Sub(t.startedAt).Seconds(); elapsed > 0 {
			t.view.Speed = int64(float64(downloaded) / elapsed)
		}
		log.Info().Int64("bytes", downloaded).Msg("remote download completed")
	case errors.Is(err, context.Canceled):
		// остановка сервиса, не пользовательская отмена
		t.view.Status = models.TaskCancelled
		t.view.Error = "interrupted by shutdown"
		log.Info().Msg("remote download interrupted")
	default:
		t.view.Status = models.TaskFailed
		t.view.Error = err.Error()
		log.Warn().Err(err).Msg("remote download failed")
	}
}
