package uploadsvc

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sir_venger/drive_lite/internal/models"
)

// ChunkBody — тело одной части и необязательная контрольная сумма от клиента.
type ChunkBody struct {
	Reader io.Reader
	Sha256 string
}

// PutChunk записывает часть index. Повторная запись того же индекса перезаписывает файл части.
func (u *Uploads) PutChunk(ctx context.Context, sessionID string, index int, body ChunkBody) (models.ChunkReceipt, error) {
	u.mu.Lock()
	s, err := u.lookup(sessionID)
	if err != nil {
		u.mu.Unlock()
		return models.ChunkReceipt{}, err
	}
	if s.merging {
		u.mu.Unlock()
		return models.ChunkReceipt{}, models.ErrBusy
	}
	if index < 0 || index >= s.plan.Total {
		u.mu.Unlock()
		return models.ChunkReceipt{}, models.Invalid("chunk index %d out of range [0,%d)", index, s.plan.Total)
	}
	s.inflight++
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		s.inflight--
		u.mu.Unlock()
	}()

	sum, err := u.writeChunk(ctx, s, index, body)
	if err != nil {
		return models.ChunkReceipt{}, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if cur, ok := u.sessions[sessionID]; !ok || cur != s {
		return models.ChunkReceipt{}, fmt.Errorf("%w: upload session %q", models.ErrNotFound, sessionID)
	}
	s.received.Add(uint32(index))

	return models.ChunkReceipt{
		Index:       index,
		Sha256:      sum,
		Received:    int(s.received.GetCardinality()),
		TotalChunks: s.plan.Total,
	}, nil
}

// writeChunk пишет часть во временный файл и переименовывает его в chunk_NNNN.
func (u *Uploads) writeChunk(ctx context.Context, s *session, index int, body ChunkBody) (string, error) {
	if body.Reader == nil {
		return "", models.Invalid("chunk body is empty")
	}
	expected := s.plan.ExpectedSize(index, s.fileSize)

	br := bufio.NewReaderSize(body.Reader, 64<<10)
	if index == 0 {
		head, _ := br.Peek(sniffLen)
		if !matchesSignature(s.mimeType, head) {
			return "", fmt.Errorf("%w: %s", models.ErrUnsupportedMedia, s.mimeType)
		}
	}

	name := fmt.Sprintf(partFilenameFormat, index)
	f, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return "", models.Internal("create chunk file", err)
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(br, expected+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", models.Internal("write chunk", err)
	}
	if n != expected {
		return "", models.Invalid("chunk %d size mismatch: got %d bytes, want %d", index, n, expected)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if body.Sha256 != "" && !strings.EqualFold(got, body.Sha256) {
		return "", models.Invalid("chunk %d sha256 mismatch", index)
	}

	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		return "", models.Internal("commit chunk", err)
	}
	committed = true

	u.Log.Debug().
		Str("op", "upload/chunk").
		Str("session", s.id).
		Int("index", index).
		Int64("size", n).
		Msg("chunk stored")

	return got, nil
}
