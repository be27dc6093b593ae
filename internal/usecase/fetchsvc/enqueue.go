package fetchsvc

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/pathguard"
)

const maxNameAttempts = 1000

// Enqueue ставит по задаче на каждый URL и сразу возвращает их идентификаторы.
// Сеть здесь не трогается: всё скачивание идёт в воркерах.
func (f *Fetcher) Enqueue(ctx context.Context, req models.EnqueueRequest) ([]string, error) {
	if len(req.URLs) == 0 {
		return nil, models.Invalid("no urls given")
	}
	sources := make([]*url.URL, 0, len(req.URLs))
	for _, raw := range req.URLs {
		u, err := f.parseSource(raw)
		if err != nil {
			return nil, err
		}
		sources = append(sources, u)
	}

	root, err := f.Registry.Resolve(ctx, req.StorageID)
	if err != nil {
		return nil, err
	}
	dir, err := pathguard.Resolve(root.Path, req.TargetDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, models.Internal("create target dir", err)
	}
	if dir, err = pathguard.Resolve(root.Path, req.TargetDir); err != nil {
		return nil, err
	}
	rel := cleanRel(req.TargetDir)

	f.mu.Lock()
	taken := f.activeNamesLocked(root.ID, rel)
	f.mu.Unlock()

	names := make([]string, len(sources))
	for i, u := range sources {
		name, err := uniqueName(dir, deriveName(u), taken)
		if err != nil {
			return nil, err
		}
		if !root.Policy.AllowsName(name) {
			return nil, models.Invalid("extension of %q is not allowed in storage %s", name, root.ID)
		}
		if _, err := pathguard.Resolve(root.Path, path.Join(rel, name)); err != nil {
			return nil, err
		}
		taken[name] = struct{}{}
		names[i] = name
	}

	ids := make([]string, len(sources))
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, u := range sources {
		wctx, cancel := context.WithCancel(f.base)
		t := &task{
			view: models.RemoteTask{
				ID:        uuid.NewString(),
				URL:       u.String(),
				StorageID: root.ID,
				TargetDir: rel,
				FileName:  names[i],
				Status:    models.TaskPending,
				Owner:     req.Owner,
				CreatedAt: f.Now(),
			},
			src:    u,
			cancel: cancel,
		}
		f.tasks[t.view.ID] = t
		ids[i] = t.view.ID

		f.wg.Add(1)
		go f.run(wctx, t)

		f.Log.Info().
			Str("op", "fetch/enqueue").
			Str("task", t.view.ID).
			Str("url", t.view.URL).
			Str("file", path.Join(rel, names[i])).
			Msg("remote download queued")
	}
	return ids, nil
}

func (f *Fetcher) parseSource(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, models.Invalid("malformed url %q", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if _, ok := f.Sources[u.Scheme]; !ok {
		return nil, models.Invalid("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, models.Invalid("url %q has no host", raw)
	}
	return u, nil
}

// activeNamesLocked — имена файлов, которые уже пишут активные задачи в этот каталог.
func (f *Fetcher) activeNamesLocked(storageID, dir string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range f.tasks {
		if t.view.Status.Terminal() || t.view.StorageID != storageID || t.view.TargetDir != dir {
			continue
		}
		out[t.view.FileName] = struct{}{}
	}
	return out
}

// deriveName берёт последний сегмент пути URL; без расширения — генерирует имя.
func deriveName(u *url.URL) string {
	seg := path.Base(u.Path)
	if seg == "/" || seg == "." {
		seg = ""
	}
	name := pathguard.SanitizeName(seg)
	if name == "" || path.Ext(name) == "" {
		return fmt.Sprintf("download_%s.bin", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	}
	return name
}

// uniqueName добавляет суффикс " (n)", если имя занято на диске или другой задачей.
func uniqueName(dir, name string, taken map[string]struct{}) (string, error) {
	free := func(n string) bool {
		if _, busy := taken[n]; busy {
			return false
		}
		_, err := os.Lstat(filepath.Join(dir, n))
		return os.IsNotExist(err)
	}
	if free(name) {
		return name, nil
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	ext = truncateUTF8(ext, pathguard.MaxNameBytes-len("download_")-8)
	for i := 1; i <= maxNameAttempts; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if len(candidate) > pathguard.MaxNameBytes {
			candidate = fmt.Sprintf("download_%s%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8], ext)
		}
		if free(candidate) {
			return candidate, nil
		}
	}
	return "", models.Internal("pick file name", fmt.Errorf("no free name for %q after %d attempts", name, maxNameAttempts))
}

// truncateUTF8 обрезает s до n байт, не разрывая руну.
func truncateUTF8(s string, n int) string {
	for len(s) > n {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s
}
