package uploadsvc

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/repo"
)

type fixture struct {
	svc  *Uploads
	root string
	now  time.Time
}

func newFixture(t *testing.T, policy models.StoragePolicy) *fixture {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))

	f := &fixture{root: root, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := New(Deps{
		Registry:     repo.NewMemoryStore(models.StorageRoot{ID: "main", Path: root, Policy: policy}),
		Log:          zerolog.Nop(),
		TempDir:      filepath.Join(t.TempDir(), "uploads"),
		ChunkSize:    1 << 20,
		MinChunkSize: 1024,
		MaxChunkSize: 4 << 20,
		MaxFileSize:  64 << 20,
		Now:          func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func pdfPayload(t *testing.T, size int) []byte {
	t.Helper()
	b := make([]byte, size)
	_, err := rand.Read(b)
	require.NoError(t, err)
	copy(b, "%PDF-1.7")
	return b
}

func (f *fixture) put(t *testing.T, id string, idx int, chunk []byte) models.ChunkReceipt {
	t.Helper()
	rc, err := f.svc.PutChunk(context.Background(), id, idx, ChunkBody{Reader: bytes.NewReader(chunk)})
	require.NoError(t, err)
	return rc
}

func TestUpload_OutOfOrderChunksMergeInIndexOrder(t *testing.T) {
	f := newFixture(t, models.StoragePolicy{})
	ctx := context.Background()
	payload := pdfPayload(t, 3_000_000)

	ticket, err := f.svc.Init(ctx, models.InitUpload{
		StorageID:     "main",
		TargetDir:     "docs",
		FileName:      "report.pdf",
		FileSize:      int64(len(payload)),
		MimeType:      "application/pdf",
		ChunkSizeHint: 1_000_000,
	})
	require.NoError(t, err)
	require.Equal(t, 3, ticket.TotalChunks)
	require.EqualValues(t, 1_000_000, ticket.ChunkSize)

	for _, idx := range []int{1, 0, 2} {
		f.put(t, ticket.SessionID, idx, payload[idx*1_000_000:(idx+1)*1_000_000])
	}

	st, err := f.svc.Status(ticket.SessionID)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, st.Received)
	require.InDelta(t, 100.0, st.Progress, 0.001)

	res, err := f.svc.Complete(ctx, ticket.SessionID)
	require.NoError(t, err)
	require.Equal(t, "docs/report.pdf", res.Path)
	require.EqualValues(t, 3_000_000, res.File.Size)

	got, err := os.ReadFile(filepath.Join(f.root, "docs", "report.pdf"))
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))

	_, err = f.svc.Status(ticket.SessionID)
	require.ErrorIs(t, err, models.ErrNotFound)
	entries, err := os.ReadDir(f.svc.TempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, 0, f.svc.Active())
}

func TestUpload_ResendSameChunkIsIdempotent(t *testing.T) {
	f := newFixture(t, models.StoragePolicy{})
	ctx := context.Background()
	payload := []byte("hello, resumable world")

	ticket, err := f.svc.Init(ctx, models.InitUpload{
		StorageID: "main", FileName: "a.txt", FileSize: int64(len(payload)),
		MimeType: "text/plain; charset=utf-8", ChunkSizeHint: 1,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1024, ticket.ChunkSize)
	require.Equal(t, 1, ticket.TotalChunks)

	var rc models.ChunkReceipt
	for i := 0; i < 3; i++ {
		rc = f.put(t, ticket.SessionID, 0, payload)
	}
	require.Equal(t, 1, rc.Received)
	sum := sha256.Sum256(payload)
	require.Equal(t, hex.EncodeToString(sum[:]), rc.Sha256)

	_, err = f.svc.Complete(ctx, ticket.SessionID)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(f.root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestUpload_CompleteRequiresAllChunks(t *testing.T) {
	f := newFixture(t, models.StoragePolicy{})
	ctx := context.Background()
	payload := bytes.Repeat([]byte("x"), 2500)

	ticket, err := f.svc.Init(ctx, models.InitUpload{
		StorageID: "main", TargetDir: "docs/new", FileName: "x.bin",
		FileSize: 2500, MimeType: "application/octet-stream", ChunkSizeHint: 1024,
	})
	require.NoError(t, err)
	require.Equal(t, 3, ticket.TotalChunks)

	f.put(t, ticket.SessionID, 0, payload[:1024])
	f.put(t, ticket.SessionID, 2, payload[2048:])

	_, err = f.svc.Complete(ctx, ticket.SessionID)
	require.ErrorIs(t, err, models.ErrIncomplete)

	st, err := f.svc.Status(ticket.SessionID)
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, st.Received)

	f.put(t, ticket.SessionID, 1, payload[1024:2048])
	res, err := f.svc.Complete(ctx, ticket.SessionID)
	require.NoError(t, err)
	require.Equal(t, "docs/new/x.bin", res.Path)
}

func TestUpload_ChunkValidation(t *testing.T) {
	f := newFixture(t, models.StoragePolicy{})
	ctx := context.Background()

	ticket, err := f.svc.Init(ctx, models.InitUpload{
		StorageID: "main", FileName: "pic.png", FileSize: 2048, MimeType: "image/png", ChunkSizeHint: 1024,
	})
	require.NoError(t, err)

	_, err = f.svc.PutChunk(ctx, "nope", 0, ChunkBody{Reader: bytes.NewReader(nil)})
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.PutChunk(ctx, ticket.SessionID, 2, ChunkBody{Reader: bytes.NewReader(make([]byte, 1024))})
	require.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = f.svc.PutChunk(ctx, ticket.SessionID, -1, ChunkBody{Reader: bytes.NewReader(make([]byte, 1024))})
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	// первая часть не похожа на PNG
	_, err = f.svc.PutChunk(ctx, ticket.SessionID, 0, ChunkBody{Reader: bytes.NewReader(bytes.Repeat([]byte("a"), 1024))})
	require.ErrorIs(t, err, models.ErrUnsupportedMedia)
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	// сигнатура проверяется только у части 0
	f.put(t, ticket.SessionID, 1, bytes.Repeat([]byte("a"), 1024))

	// неверный размер
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 100)...)
	_, err = f.svc.PutChunk(ctx, ticket.SessionID, 0, ChunkBody{Reader: bytes.NewReader(png)})
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	png = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 1016)...)
	_, err = f.svc.PutChunk(ctx, ticket.SessionID, 0, ChunkBody{Reader: bytes.NewReader(png), Sha256: "deadbeef"})
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	f.put(t, ticket.SessionID, 0, png)
	st, err := f.svc.Status(ticket.SessionID)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, st.Received)
}

func TestUpload_InitValidation(t *testing.T) {
	f := newFixture(t, models.StoragePolicy{MaxFileSize: 10 << 20, BlockExtensions: []string{"exe"}})
	ctx := context.Background()
	base := models.InitUpload{StorageID: "main", FileName: "ok.bin", FileSize: 10, MimeType: "application/octet-stream"}

	cases := []struct {
		name   string
		mutate func(*models.InitUpload)
		want   error
	}{
		{"empty name", func(r *models.InitUpload) { r.FileName = "" }, models.ErrInvalidArgument},
		{"separator", func(r *models.InitUpload) { r.FileName = "a/b" }, models.ErrInvalidArgument},
		{"traversal name", func(r *models.InitUpload) { r.FileName = "..evil" }, models.ErrInvalidArgument},
		{"bad mime", func(r *models.InitUpload) { r.MimeType = "not a/type;;" }, models.ErrInvalidArgument},
		{"too large", func(r *models.InitUpload) { r.FileSize = 11 << 20 }, models.ErrTooLarge},
		{"blocked ext", func(r *models.InitUpload) { r.FileName = "setup.exe" }, models.ErrInvalidArgument},
		{"traversal dir", func(r *models.InitUpload) { r.TargetDir = "../../etc" }, models.ErrPathViolation},
		{"encoded traversal", func(r *models.InitUpload) { r.TargetDir = "%2e%2e/etc" }, models.ErrPathViolation},
		{"unknown storage", func(r *models.InitUpload) { r.StorageID = "other" }, models.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			_, err := f.svc.Init(ctx, req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Equal(t, 0, f.svc.Active())
}

func TestUpload_EmptyFile(t *testing.T) {
	f := newFixture(t, models.StoragePolicy{})
	ctx := context.Background()

	ticket, err := f.svc.Init(ctx, models.InitUpload{StorageID: "main", FileName: "empty.txt", MimeType: "text/plain"})
	require.NoError(t, err)
	require.Equal(t, 0, ticket.TotalChunks)

	res, err := f.svc.Complete(ctx, ticket.SessionID)
	require.NoError(t, err)
	require.EqualValues(t, 0, res.File.Size)
	fi, err := os.Stat(filepath.Join(f.root, "empty.txt"))
	require.NoError(t, err)
	require.EqualValues(t, 0, fi.Size())
}

func TestUpload_CancelIsIdempotent(t *testing.T) {
	f := newFixture(t, models.StoragePolicy{})
	ctx := context.Background()

	ticket, err := f.svc.Init(ctx, models.InitUpload{StorageID: "main", FileName: "c.txt", FileSize: 4, MimeType: "text/plain"})
	require.NoError(t, err)
	f.put(t, ticket.SessionID, 0, []byte("abcd"))

	require.NoError(t, f.svc.Cancel(ticket.SessionID))
	require.NoError(t, f.svc.Cancel(ticket.SessionID))
	_, err = os.Stat(filepath.Join(f.svc.TempDir, ticket.SessionID))
	require.True(t, os.IsNotExist(err))

	_, err = f.svc.PutChunk(ctx, ticket.SessionID, 0, ChunkBody{Reader: bytes.NewReader([]byte("abcd"))})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpload_SweepExpired(t *testing.T) {
	f := newFixture(t, models.StoragePolicy{})
	ctx := context.Background()

	old, err := f.svc.Init(ctx, models.InitUpload{StorageID: "main", FileName: "old.txt", FileSize: 1, MimeType: "text/plain"})
	require.NoError(t, err)
	f.now = f.now.Add(23 * time.Hour)
	fresh, err := f.svc.Init(ctx, models.InitUpload{StorageID: "main", FileName: "new.txt", FileSize: 1, MimeType: "text/plain"})
	require.NoError(t, err)

	// каталог от прошлого запуска процесса
	orphan := filepath.Join(f.svc.TempDir, "6f1c1f5e-4c8a-4c55-9a55-2f8e6f0b7e11")
	require.NoError(t, os.MkdirAll(orphan, 0o700))
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, stale, stale))

	f.now = f.now.Add(2 * time.Hour)
	require.Equal(t, 1, f.svc.SweepExpired(24*time.Hour))

	_, err = f.svc.Status(old.SessionID)
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.svc.Status(fresh.SessionID)
	require.NoError(t, err)
	_, err = os.Stat(orphan)
	require.True(t, os.IsNotExist(err))
}

func TestUpload_ConcurrentChunks(t *testing.T) {
	f := newFixture(t, models.StoragePolicy{})
	ctx := context.Background()
	payload := make([]byte, 16*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	ticket, err := f.svc.Init(ctx, models.InitUpload{
		StorageID: "main", FileName: "blob.bin", FileSize: int64(len(payload)), ChunkSizeHint: 1024,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < ticket.TotalChunks; i++ {
		for rep := 0; rep < 2; rep++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				_, err := f.svc.PutChunk(ctx, ticket.SessionID, idx, ChunkBody{Reader: bytes.NewReader(payload[idx*1024 : (idx+1)*1024])})
				assert.NoError(t, err)
			}(i)
		}
	}
	wg.Wait()

	_, err = f.svc.Complete(ctx, ticket.SessionID)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(f.root, "blob.bin"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestUploadSimple(t *testing.T) {
	f := newFixture(t, models.StoragePolicy{MaxFileSize: 8})
	ctx := context.Background()

	res, err := f.svc.UploadSimple(ctx, SimpleUpload{
		StorageID: "main", TargetDir: "docs/notes", FileName: "n.txt", Size: -1, Reader: bytes.NewReader([]byte("note")),
	})
	require.NoError(t, err)
	require.Equal(t, "docs/notes/n.txt", res.Path)

	_, err = f.svc.UploadSimple(ctx, SimpleUpload{
		StorageID: "main", FileName: "big.txt", Size: -1, Reader: bytes.NewReader([]byte("123456789")),
	})
	require.ErrorIs(t, err, models.ErrTooLarge)
	_, err = os.Stat(filepath.Join(f.root, "big.txt"))
	require.True(t, os.IsNotExist(err))

	_, err = f.svc.UploadSimple(ctx, SimpleUpload{
		StorageID: "main", TargetDir: "../x", FileName: "a.txt", Size: 1, Reader: bytes.NewReader([]byte("a")),
	})
	require.ErrorIs(t, err, models.ErrPathViolation)
}

func TestUpload_MaxLengthNameCompletes(t *testing.T) {
	f := newFixture(t, models.StoragePolicy{})
	ctx := context.Background()
	name := strings.Repeat("a", 251) + ".pdf"
	require.Len(t, name, 255)
	payload := pdfPayload(t, 4096)

	ticket, err := f.svc.Init(ctx, models.InitUpload{
		StorageID: "main",
		TargetDir: "docs",
		FileName:  name,
		FileSize:  int64(len(payload)),
		MimeType:  "application/pdf",
	})
	require.NoError(t, err)
	f.put(t, ticket.SessionID, 0, payload)

	res, err := f.svc.Complete(ctx, ticket.SessionID)
	require.NoError(t, err)
	require.Equal(t, "docs/"+name, res.Path)

	got, err := os.ReadFile(filepath.Join(f.root, "docs", name))
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
	requireOnlyFile(t, filepath.Join(f.root, "docs"), name)

	simpleName := strings.Repeat("s", 251) + ".txt"
	res, err = f.svc.UploadSimple(ctx, SimpleUpload{
		StorageID: "main", TargetDir: "docs", FileName: simpleName, Size: 5, Reader: bytes.NewReader([]byte("hello")),
	})
	require.NoError(t, err)
	require.Equal(t, "docs/"+simpleName, res.Path)
	requireOnlyFile(t, filepath.Join(f.root, "docs"), name, simpleName)
}

// requireOnlyFile проверяет, что в каталоге не осталось временных файлов.
func requireOnlyFile(t *testing.T, dir string, names ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.Name())
	}
	require.ElementsMatch(t, names, got)
}

func TestMatchesSignature(t *testing.T) {
	require.True(t, matchesSignature("image/jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}))
	require.True(t, matchesSignature("image/gif", []byte("GIF89a....")))
	require.True(t, matchesSignature("image/webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 ")))
	require.False(t, matchesSignature("image/webp", []byte("RIFF\x00\x00\x00\x00WAVE")))
	require.True(t, matchesSignature("application/zip", []byte("PK\x05\x06")))
	require.False(t, matchesSignature("application/pdf", []byte("%PD")))
	require.True(t, matchesSignature("text/plain", []byte("x")))
	require.True(t, matchesSignature("application/x-unknown", nil))
}
