package uploadsvc

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/pathguard"
)

// Init открывает сессию загрузки: проверяет имя, тип, размер и целевой каталог.
func (u *Uploads) Init(ctx context.Context, req models.InitUpload) (models.UploadTicket, error) {
	if err := pathguard.ValidateName(req.FileName); err != nil {
		return models.UploadTicket{}, err
	}
	mediaType, err := parseMediaType(req.MimeType)
	if err != nil {
		return models.UploadTicket{}, err
	}
	if req.FileSize < 0 {
		return models.UploadTicket{}, models.Invalid("file size must be >= 0")
	}

	root, err := u.Registry.Resolve(ctx, req.StorageID)
	if err != nil {
		return models.UploadTicket{}, err
	}
	if err := checkPolicy(root, req.FileName, req.FileSize, u.MaxFileSize); err != nil {
		return models.UploadTicket{}, err
	}
	if _, _, err := resolveTarget(root.Path, req.TargetDir, req.FileName); err != nil {
		return models.UploadTicket{}, err
	}

	chunkSize := u.chunkSizeFor(req.ChunkSizeHint)
	plan := models.PlanChunks(req.FileSize, chunkSize)

	id := uuid.NewString()
	dir := filepath.Join(u.TempDir, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return models.UploadTicket{}, models.Internal("create session dir", err)
	}

	s := &session{
		id:        id,
		storageID: root.ID,
		targetDir: cleanRel(req.TargetDir),
		fileName:  req.FileName,
		mimeType:  mediaType,
		owner:     req.Owner,
		fileSize:  req.FileSize,
		plan:      plan,
		dir:       dir,
		createdAt: u.Now(),
		received:  roaring.New(),
	}

	u.mu.Lock()
	u.sessions[id] = s
	u.mu.Unlock()

	u.Log.Info().
		Str("op", "upload/init").
		Str("session", id).
		Str("storage", root.ID).
		Str("file", path.Join(s.targetDir, s.fileName)).
		Int64("size", req.FileSize).
		Int("chunks", plan.Total).
		Msg("upload session opened")

	return models.UploadTicket{
		SessionID:   id,
		ChunkSize:   chunkSize,
		TotalChunks: plan.Total,
	}, nil
}

func parseMediaType(v string) (string, error) {
	if strings.TrimSpace(v) == "" {
		return "application/octet-stream", nil
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return "", models.Invalid("malformed mime type %q", v)
	}
	return mt, nil
}

func checkPolicy(root models.StorageRoot, name string, size, ceiling int64) error {
	if !root.Policy.AllowsName(name) {
		return models.Invalid("extension of %q is not allowed in storage %s", name, root.ID)
	}
	if limit := root.Policy.SizeLimit(ceiling); limit > 0 && size > limit {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", models.ErrTooLarge, size, limit)
	}
	return nil
}

// resolveTarget проверяет каталог назначения и итоговый путь файла.
func resolveTarget(root, targetDir, name string) (dir, file string, err error) {
	dir, err = pathguard.Resolve(root, targetDir)
	if err != nil {
		return "", "", err
	}
	if fi, statErr := os.Stat(dir); statErr == nil && !fi.IsDir() {
		return "", "", models.Invalid("target %q is not a directory", targetDir)
	}
	file, err = pathguard.Resolve(root, path.Join(cleanRel(targetDir), name))
	if err != nil {
		return "", "", err
	}
	if fi, statErr := os.Stat(file); statErr == nil && fi.IsDir() {
		return "", "", models.Invalid("target %q is a directory", path.Join(targetDir, name))
	}
	return dir, file, nil
}

func cleanRel(p string) string {
	p = strings.Trim(strings.ReplaceAll(p, `\`, "/"), "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
