package uploadsvc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/pathguard"
)

// Complete собирает части по порядку индексов во временный файл в целевом каталоге
// и атомарно переименовывает его в итоговое имя. При ошибке сессия остаётся для повтора.
func (u *Uploads) Complete(ctx context.Context, sessionID string) (models.UploadResult, error) {
	u.mu.Lock()
	s, err := u.lookup(sessionID)
	if err != nil {
		u.mu.Unlock()
		return models.UploadResult{}, err
	}
	if s.merging || s.inflight > 0 {
		u.mu.Unlock()
		return models.UploadResult{}, models.ErrBusy
	}
	if got := int(s.received.GetCardinality()); got != s.plan.Total {
		u.mu.Unlock()
		return models.UploadResult{}, fmt.Errorf("%w: %d of %d chunks received", models.ErrIncomplete, got, s.plan.Total)
	}
	s.merging = true
	u.mu.Unlock()

	res, err := u.merge(ctx, s)
	if err != nil {
		u.mu.Lock()
		s.merging = false
		u.mu.Unlock()
		u.Log.Error().Err(err).Str("op", "upload/complete").Str("session", sessionID).Msg("merge failed")
		return models.UploadResult{}, err
	}

	u.mu.Lock()
	delete(u.sessions, sessionID)
	u.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		u.Log.Warn().Err(err).Str("op", "upload/complete").Str("session", sessionID).Msg("remove session dir")
	}

	u.Log.Info().
		Str("op", "upload/complete").
		Str("session", sessionID).
		Str("path", res.Path).
		Int64("size", res.File.Size).
		Msg("upload completed")

	return res, nil
}

func (u *Uploads) merge(ctx context.Context, s *session) (models.UploadResult, error) {
	root, err := u.Registry.Resolve(ctx, s.storageID)
	if err != nil {
		return models.UploadResult{}, err
	}

	dir, err := pathguard.Resolve(root.Path, s.targetDir)
	if err != nil {
		return models.UploadResult{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.UploadResult{}, models.Internal("create target dir", err)
	}
	// каталог только что создан: проверяем ещё раз, уже по существующему пути
	dir, final, err := resolveTarget(root.Path, s.targetDir, s.fileName)
	if err != nil {
		return models.UploadResult{}, err
	}

	out, err := os.CreateTemp(dir, mergeTempPattern)
	if err != nil {
		return models.UploadResult{}, models.Internal("create merge file", err)
	}
	tmp := out.Name()
	committed := false
	defer func() {
		if !committed {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	var written int64
	for i := 0; i < s.plan.Total; i++ {
		if err := ctx.Err(); err != nil {
			return models.UploadResult{}, err
		}
		n, err := appendChunk(out, filepath.Join(s.dir, fmt.Sprintf(partFilenameFormat, i)))
		if err != nil {
			return models.UploadResult{}, models.Internal(fmt.Sprintf("merge chunk %d", i), err)
		}
		written += n
	}
	if written != s.fileSize {
		return models.UploadResult{}, models.Internal("merge", fmt.Errorf("size mismatch: wrote %d, declared %d", written, s.fileSize))
	}
	if err := out.Sync(); err != nil {
		return models.UploadResult{}, models.Internal("sync merged file", err)
	}
	if err := out.Close(); err != nil {
		return models.UploadResult{}, models.Internal("close merged file", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return models.UploadResult{}, models.Internal("rename merged file", err)
	}
	committed = true

	rel, err := pathguard.RelTo(root.Path, final)
	if err != nil {
		return models.UploadResult{}, err
	}

	return models.UploadResult{
		Path: rel,
		File: models.FileInfo{
			Name:     s.fileName,
			Size:     written,
			MimeType: s.mimeType,
		},
	}, nil
}

func appendChunk(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(dst, f)
}
