package uploadsvc

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/pathguard"
)

// SimpleUpload — загрузка небольшого файла одним запросом.
type SimpleUpload struct {
	StorageID string
	TargetDir string
	FileName  string
	// Size — объявленный размер; -1, если неизвестен.
	Size   int64
	Reader io.Reader
}

// UploadSimple пишет файл целиком через временный файл и rename, с теми же проверками, что и Init.
func (u *Uploads) UploadSimple(ctx context.Context, req SimpleUpload) (models.UploadResult, error) {
	if err := pathguard.ValidateName(req.FileName); err != nil {
		return models.UploadResult{}, err
	}
	if req.Reader == nil {
		return models.UploadResult{}, models.Invalid("request body is empty")
	}

	root, err := u.Registry.Resolve(ctx, req.StorageID)
	if err != nil {
		return models.UploadResult{}, err
	}
	if err := checkPolicy(root, req.FileName, max(req.Size, 0), u.MaxFileSize); err != nil {
		return models.UploadResult{}, err
	}
	limit := root.Policy.SizeLimit(u.MaxFileSize)

	dir, err := pathguard.Resolve(root.Path, req.TargetDir)
	if err != nil {
		return models.UploadResult{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.UploadResult{}, models.Internal("create target dir", err)
	}
	dir, final, err := resolveTarget(root.Path, req.TargetDir, req.FileName)
	if err != nil {
		return models.UploadResult{}, err
	}

	f, err := os.CreateTemp(dir, uploadTempPattern)
	if err != nil {
		return models.UploadResult{}, models.Internal("create upload file", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	n, err := io.Copy(f, io.LimitReader(req.Reader, limit+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	switch {
	case err != nil && ctx.Err() != nil:
		return models.UploadResult{}, ctx.Err()
	case err != nil:
		return models.UploadResult{}, models.Internal("write upload", err)
	case n > limit:
		return models.UploadResult{}, fmt.Errorf("%w: more than %d bytes", models.ErrTooLarge, limit)
	case req.Size >= 0 && n != req.Size:
		return models.UploadResult{}, models.Invalid("size mismatch: got %d bytes, want %d", n, req.Size)
	}

	if err := os.Rename(tmp, final); err != nil {
		return models.UploadResult{}, models.Internal("rename upload", err)
	}

	rel, err := pathguard.RelTo(root.Path, final)
	if err != nil {
		return models.UploadResult{}, err
	}
	u.Log.Info().Str("op", "upload/simple").Str("storage", root.ID).Str("path", rel).Int64("size", n).Msg("file uploaded")

	return models.UploadResult{
		Path: rel,
		File: models.FileInfo{
			Name:     req.FileName,
			Size:     n,
			MimeType: mime.TypeByExtension(filepath.Ext(req.FileName)),
		},
	}, nil
}
