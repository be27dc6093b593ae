package uploadsvc

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SweepExpired удаляет сессии старше maxAge вместе с их каталогами, а также
// осиротевшие каталоги частей, оставшиеся от прошлых запусков. Возвращает число удалённых сессий.
func (u *Uploads) SweepExpired(maxAge time.Duration) int {
	now := u.Now()

	u.mu.Lock()
	var expired []*session
	known := make(map[string]struct{}, len(u.sessions))
	for id, s := range u.sessions {
		known[s.dir] = struct{}{}
		// сессии, которые сейчас пишутся или собираются, не трогаем
		if s.merging || s.inflight > 0 || now.Sub(s.createdAt) < maxAge {
			continue
		}
		expired = append(expired, s)
		delete(u.sessions, id)
	}
	u.mu.Unlock()

	// сессии уже вне таблицы, до их каталогов больше никто не дотянется
	for _, s := range expired {
		if err := os.RemoveAll(s.dir); err != nil {
			u.Log.Warn().Err(err).Str("op", "upload/sweep").Str("session", s.id).Msg("remove session dir")
		}
		u.Log.Info().Str("op", "upload/sweep").Str("session", s.id).Msg("expired upload session removed")
	}

	u.sweepOrphans(known, maxAge)
	return len(expired)
}

// sweepOrphans удаляет каталоги в TempDir, которым не соответствует ни одна сессия.
// Возраст считается по mtime на диске, поэтому тут настоящее время, а не u.Now.
func (u *Uploads) sweepOrphans(known map[string]struct{}, ttl time.Duration) {
	now := time.Now()
	entries, err := os.ReadDir(u.TempDir)
	if err != nil {
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		dir := filepath.Join(u.TempDir, e.Name())
		if _, ok := known[dir]; ok {
			continue
		}
		fi, err := e.Info()
		if err != nil || now.Sub(fi.ModTime()) < ttl {
			continue
		}
		// каталог могла только что создать новая сессия: перепроверяем под локом
		u.mu.Lock()
		_, live := u.sessions[e.Name()]
		u.mu.Unlock()
		if live {
			continue
		}
		_ = os.RemoveAll(dir)
	}
}

// StartSweeper стартует периодическую очистку просроченных сессий и возвращает функцию остановки.
func (u *Uploads) StartSweeper(ttl, every time.Duration) func() {
	if every <= 0 || ttl <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(every)
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := u.SweepExpired(ttl); n > 0 {
					u.Log.Info().Str("op", "upload/sweep").Int("removed", n).Msg("sweep finished")
				}
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			close(stop)
		})
	}
}
