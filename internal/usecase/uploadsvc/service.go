package uploadsvc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/rs/zerolog"

	"github.com/sir_venger/drive_lite/internal/models"
)

const (
	partFilenameFormat = "chunk_%04d"
	// Имена временных файлов в целевом каталоге не зависят от имени файла:
	// имя может занимать все 255 байт.
	mergeTempPattern   = ".drive-merge-*"
	uploadTempPattern  = ".drive-upload-*"
	defaultChunkSize   = 1 << 20
	defaultMaxFileSize = 1 << 30
)

type (
	// StorageRegistry отдаёт корень хранилища и его политику по идентификатору.
	StorageRegistry interface {
		Resolve(ctx context.Context, id string) (models.StorageRoot, error)
	}

	// Service — операции протокола возобновляемой загрузки.
	Service interface {
		Init(ctx context.Context, req models.InitUpload) (models.UploadTicket, error)
		PutChunk(ctx context.Context, sessionID string, index int, body ChunkBody) (models.ChunkReceipt, error)
		Status(sessionID string) (models.UploadStatus, error)
		Complete(ctx context.Context, sessionID string) (models.UploadResult, error)
		Cancel(sessionID string) error
		UploadSimple(ctx context.Context, req SimpleUpload) (models.UploadResult, error)
		SweepExpired(maxAge time.Duration) int
		Active() int
	}
)

type Deps struct {
	Registry     StorageRegistry
	Log          zerolog.Logger
	TempDir      string
	ChunkSize    int64
	MinChunkSize int64
	MaxChunkSize int64
	MaxFileSize  int64
	Now          func() time.Time
}

// Uploads держит таблицу активных сессий загрузки.
type Uploads struct {
	Deps

	mu       sync.Mutex
	sessions map[string]*session
}

// session — состояние одной загрузки. Поля после создания неизменны,
// кроме received, merging и inflight, которые меняются только под Uploads.mu.
type session struct {
	id        string
	storageID string
	targetDir string
	fileName  string
	mimeType  string
	owner     string
	fileSize  int64
	plan      models.ChunkPlan
	dir       string
	createdAt time.Time

	received *roaring.Bitmap
	merging  bool
	inflight int
}

var _ Service = (*Uploads)(nil)

// New конструирует координатор загрузок и создаёт каталог для временных частей.
func New(deps Deps) (*Uploads, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("uploadsvc: registry is required")
	}
	if deps.TempDir == "" {
		deps.TempDir = filepath.Join(os.TempDir(), "drive-lite-uploads")
	}
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = defaultChunkSize
	}
	if deps.MinChunkSize <= 0 || deps.MinChunkSize > deps.ChunkSize {
		deps.MinChunkSize = min(deps.ChunkSize, 64<<10)
	}
	if deps.MaxChunkSize < deps.ChunkSize {
		deps.MaxChunkSize = deps.ChunkSize
	}
	if deps.MaxFileSize <= 0 {
		deps.MaxFileSize = defaultMaxFileSize
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if err := os.MkdirAll(deps.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("uploadsvc: temp dir: %w", err)
	}

	return &Uploads{
		Deps:     deps,
		sessions: map[string]*session{},
	}, nil
}

// Active возвращает число открытых сессий.
func (u *Uploads) Active() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sessions)
}

func (u *Uploads) chunkSizeFor(hint int64) int64 {
	if hint <= 0 {
		return u.ChunkSize
	}
	return max(u.MinChunkSize, min(hint, u.MaxChunkSize))
}

// lookup возвращает сессию; вызывается под u.mu.
func (u *Uploads) lookup(id string) (*session, error) {
	s, ok := u.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: upload session %q", models.ErrNotFound, id)
	}
	return s, nil
}

func (s *session) status() models.UploadStatus {
	received := make([]int, 0, s.received.GetCardinality())
	it := s.received.Iterator()
	for it.HasNext() {
		received = append(received, int(it.Next()))
	}

	progress := 100.0
	if s.plan.Total > 0 {
		progress = float64(len(received)) * 100 / float64(s.plan.Total)
	}

	return models.UploadStatus{
		SessionID:   s.id,
		FileName:    s.fileName,
		FileSize:    s.fileSize,
		ChunkSize:   s.plan.Size,
		TotalChunks: s.plan.Total,
		Received:    received,
		Progress:    progress,
		Owner:       s.owner,
		CreatedAt:   s.createdAt,
	}
}

// Status отдаёт снимок сессии для клиента, который хочет продолжить загрузку.
func (u *Uploads) Status(sessionID string) (models.UploadStatus, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	s, err := u.lookup(sessionID)
	if err != nil {
		return models.UploadStatus{}, err
	}
	return s.status(), nil
}

// Cancel удаляет сессию и её временный каталог. Неизвестная сессия — не ошибка.
func (u *Uploads) Cancel(sessionID string) error {
	u.mu.Lock()
	s, ok := u.sessions[sessionID]
	delete(u.sessions, sessionID)
	u.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return models.Internal("remove session dir", err)
	}
	u.Log.Info().Str("op", "upload/cancel").Str("session", sessionID).Msg("upload session cancelled")
	return nil
}
