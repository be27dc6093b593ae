package fetchsvc

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/pathguard"
	"github.com/sir_venger/drive_lite/internal/repo"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newFetcher(t *testing.T, maxConcurrent int) (*Fetcher, string) {
	t.Helper()
	root := t.TempDir()
	c := &clock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	f, err := New(Deps{
		Registry:         repo.NewMemoryStore(models.StorageRoot{ID: "main", Path: root}),
		Log:              zerolog.Nop(),
		ProgressBytes:    1024,
		ProgressInterval: 10 * time.Millisecond,
		MaxConcurrent:    maxConcurrent,
		Now:              c.Now,
	})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f, root
}

func waitStatus(t *testing.T, f *Fetcher, id string, want models.TaskStatus) models.RemoteTask {
	t.Helper()
	var last models.RemoteTask
	require.Eventually(t, func() bool {
		v, err := f.Get(id)
		if err != nil {
			return false
		}
		last = v
		return v.Status == want
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return last
}

// gate — HTTP-обработчик, который отдаёт первую порцию и ждёт разрешения на остальное.
type gate struct {
	release chan struct{}
	once    sync.Once
}

func newGate() *gate { return &gate{release: make(chan struct{})} }

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func (g *gate) handler(first, rest []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(first)+len(rest)))
		_, _ = w.Write(first)
		w.(http.Flusher).Flush()
		select {
		case <-g.release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write(rest)
	}
}

func TestFetch_DownloadsIntoTargetDir(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "a.bin", time.Time{}, bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)

	f, root := newFetcher(t, 0)
	ids, err := f.Enqueue(context.Background(), models.EnqueueRequest{
		StorageID: "main", TargetDir: "downloads", URLs: []string{srv.URL + "/files/a.bin"}, Owner: "alice",
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	v := waitStatus(t, f, ids[0], models.TaskCompleted)
	require.EqualValues(t, len(payload), v.Downloaded)
	require.NotNil(t, v.Total)
	require.EqualValues(t, len(payload), *v.Total)
	require.Equal(t, "a.bin", v.FileName)
	require.Equal(t, "downloads", v.TargetDir)
	require.Equal(t, "alice", v.Owner)
	require.NotNil(t, v.FinishedAt)

	got, err := os.ReadFile(filepath.Join(root, "downloads", "a.bin"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
	requireNoPartFiles(t, filepath.Join(root, "downloads"))
}

func TestFetch_UpstreamErrorRecordedOnTask(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	f, _ := newFetcher(t, 0)
	ids, err := f.Enqueue(context.Background(), models.EnqueueRequest{StorageID: "main", URLs: []string{srv.URL + "/missing.zip"}})
	require.NoError(t, err)

	v := waitStatus(t, f, ids[0], models.TaskFailed)
	require.Contains(t, v.Error, "404")
}

func TestFetch_CancelMidStream(t *testing.T) {
	g := newGate()
	srv := httptest.NewServer(g.handler(bytes.Repeat([]byte("x"), 4096), bytes.Repeat([]byte("y"), 4096)))
	t.Cleanup(srv.Close)
	t.Cleanup(g.open)

	f, root := newFetcher(t, 0)
	ids, err := f.Enqueue(context.Background(), models.EnqueueRequest{StorageID: "main", URLs: []string{srv.URL + "/big.iso"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, _ := f.Get(ids[0])
		return v.Status == models.TaskDownloading && v.Total != nil
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, f.Cancel(ids[0]))
	g.open()
	f.Close()

	v, err := f.Get(ids[0])
	require.NoError(t, err)
	require.Equal(t, models.TaskCancelled, v.Status)
	require.Empty(t, v.Error)
	_, err = os.Stat(filepath.Join(root, "big.iso"))
	require.True(t, os.IsNotExist(err))
	requireNoPartFiles(t, root)
}

func TestFetch_CloseInterruptsActiveTasks(t *testing.T) {
	g := newGate()
	srv := httptest.NewServer(g.handler(bytes.Repeat([]byte("x"), 4096), bytes.Repeat([]byte("y"), 4096)))
	t.Cleanup(srv.Close)
	t.Cleanup(g.open)

	f, root := newFetcher(t, 0)
	ids, err := f.Enqueue(context.Background(), models.EnqueueRequest{StorageID: "main", URLs: []string{srv.URL + "/disk.img"}})
	require.NoError(t, err)
	waitStatus(t, f, ids[0], models.TaskDownloading)

	f.Close()

	v, err := f.Get(ids[0])
	require.NoError(t, err)
	require.Equal(t, models.TaskCancelled, v.Status)
	require.Equal(t, "interrupted by shutdown", v.Error)
	requireNoPartFiles(t, root)
}

func TestFetch_CancelBeforeStart(t *testing.T) {
	g := newGate()
	srv := httptest.NewServer(g.handler([]byte("head"), []byte("tail")))
	t.Cleanup(srv.Close)
	t.Cleanup(g.open)

	// единственный слот занят первой задачей, вторая остаётся Pending
	f, root := newFetcher(t, 1)
	first, err := f.Enqueue(context.Background(), models.EnqueueRequest{StorageID: "main", URLs: []string{srv.URL + "/one.bin"}})
	require.NoError(t, err)
	waitStatus(t, f, first[0], models.TaskDownloading)

	second, err := f.Enqueue(context.Background(), models.EnqueueRequest{StorageID: "main", TargetDir: "downloads", URLs: []string{srv.URL + "/a.bin"}})
	require.NoError(t, err)
	v, err := f.Get(second[0])
	require.NoError(t, err)
	require.Equal(t, models.TaskPending, v.Status)

	require.NoError(t, f.Cancel(second[0]))
	g.open()
	waitStatus(t, f, first[0], models.TaskCompleted)

	v, err = f.Get(second[0])
	require.NoError(t, err)
	require.Equal(t, models.TaskCancelled, v.Status)
	require.Zero(t, v.Downloaded)
	_, err = os.Stat(filepath.Join(root, "downloads", "a.bin"))
	require.True(t, os.IsNotExist(err))
}

func TestFetch_CancelTerminalDismissesAndClearKeepsActive(t *testing.T) {
	g := newGate()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.txt", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/bad.txt", http.NotFound)
	mux.Handle("/slow.txt", g.handler([]byte("s"), []byte("low")))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(g.open)

	f, _ := newFetcher(t, 0)
	ids, err := f.Enqueue(context.Background(), models.EnqueueRequest{
		StorageID: "main",
		URLs:      []string{srv.URL + "/ok.txt", srv.URL + "/bad.txt", srv.URL + "/slow.txt"},
	})
	require.NoError(t, err)
	okID, badID, slowID := ids[0], ids[1], ids[2]

	waitStatus(t, f, okID, models.TaskCompleted)
	waitStatus(t, f, badID, models.TaskFailed)
	waitStatus(t, f, slowID, models.TaskDownloading)

	// отмена завершённой задачи убирает её из списка
	require.NoError(t, f.Cancel(okID))
	_, err = f.Get(okID)
	require.ErrorIs(t, err, models.ErrNotFound)
	require.ErrorIs(t, f.Cancel(okID), models.ErrNotFound)

	require.Equal(t, 1, f.Clear())
	list := f.List(models.TaskFilter{})
	require.Len(t, list, 1)
	require.Equal(t, slowID, list[0].ID)

	g.open()
	waitStatus(t, f, slowID, models.TaskCompleted)
	require.Equal(t, 1, f.Clear())
	require.Empty(t, f.List(models.TaskFilter{}))
}

func TestFetch_ListFilterAndOrder(t *testing.T) {
	g := newGate()
	srv := httptest.NewServer(g.handler([]byte("a"), []byte("b")))
	t.Cleanup(srv.Close)
	t.Cleanup(g.open)

	f, _ := newFetcher(t, 0)
	ctx := context.Background()
	a, err := f.Enqueue(ctx, models.EnqueueRequest{StorageID: "main", TargetDir: "x", URLs: []string{srv.URL + "/1.bin"}})
	require.NoError(t, err)
	b, err := f.Enqueue(ctx, models.EnqueueRequest{StorageID: "main", TargetDir: "/y/", URLs: []string{srv.URL + "/2.bin"}})
	require.NoError(t, err)
	c, err := f.Enqueue(ctx, models.EnqueueRequest{StorageID: "main", TargetDir: "x", URLs: []string{srv.URL + "/3.bin"}})
	require.NoError(t, err)

	all := f.List(models.TaskFilter{})
	require.Len(t, all, 3)
	require.Equal(t, []string{c[0], b[0], a[0]}, []string{all[0].ID, all[1].ID, all[2].ID})

	inX := f.List(models.TaskFilter{TargetDir: "x/"})
	require.Len(t, inX, 2)
	require.Equal(t, c[0], inX[0].ID)

	require.NoError(t, f.Cancel(b[0]))
	cancelled := f.List(models.TaskFilter{Status: models.TaskCancelled})
	require.Len(t, cancelled, 1)
	require.Equal(t, "y", cancelled[0].TargetDir)
	require.Equal(t, 1, f.Counts()[models.TaskCancelled])
}

func TestFetch_EnqueueValidation(t *testing.T) {
	f, _ := newFetcher(t, 0)
	ctx := context.Background()

	_, err := f.Enqueue(ctx, models.EnqueueRequest{StorageID: "main"})
	require.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = f.Enqueue(ctx, models.EnqueueRequest{StorageID: "main", URLs: []string{"ftp://host/a.bin"}})
	require.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = f.Enqueue(ctx, models.EnqueueRequest{StorageID: "main", URLs: []string{"http://host/a.bin", "::not a url"}})
	require.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = f.Enqueue(ctx, models.EnqueueRequest{StorageID: "main", TargetDir: "../../etc", URLs: []string{"http://host/a.bin"}})
	require.ErrorIs(t, err, models.ErrPathViolation)
	_, err = f.Enqueue(ctx, models.EnqueueRequest{StorageID: "nope", URLs: []string{"http://host/a.bin"}})
	require.ErrorIs(t, err, models.ErrNotFound)

	require.Empty(t, f.List(models.TaskFilter{}))
}

func TestDeriveAndUniqueNames(t *testing.T) {
	mustURL := func(s string) *url.URL {
		u, err := url.Parse(s)
		require.NoError(t, err)
		return u
	}
	require.Equal(t, "file name.tar.gz", deriveName(mustURL("https://h/dl/file%20name.tar.gz?x=1")))
	require.Regexp(t, `^download_[0-9a-f]{8}\.bin$`, deriveName(mustURL("https://h/")))
	require.Regexp(t, `^download_[0-9a-f]{8}\.bin$`, deriveName(mustURL("https://h/latest")))
	require.Equal(t, "key.json", deriveName(mustURL("s3://bucket/prefix/key.json")))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), nil, 0o644))
	taken := map[string]struct{}{"a (1).bin": {}}
	name, err := uniqueName(dir, "a.bin", taken)
	require.NoError(t, err)
	require.Equal(t, "a (2).bin", name)
	name, err = uniqueName(dir, "b.bin", taken)
	require.NoError(t, err)
	require.Equal(t, "b.bin", name)
}

func TestUniqueName_LongExtensionFitsLimit(t *testing.T) {
	dir := t.TempDir()
	long := "a." + strings.Repeat("x", pathguard.MaxNameBytes-2)
	require.Len(t, long, pathguard.MaxNameBytes)
	require.NoError(t, os.WriteFile(filepath.Join(dir, long), nil, 0o644))

	name, err := uniqueName(dir, long, nil)
	require.NoError(t, err)
	require.NotEqual(t, long, name)
	require.LessOrEqual(t, len(name), pathguard.MaxNameBytes)
	require.NoError(t, pathguard.ValidateName(name))
}

func TestUniqueName_GivesUpWhenNothingIsFree(t *testing.T) {
	// каталог-файл: Lstat внутри него всегда ENOTDIR, свободного имени нет
	notDir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notDir, nil, 0o644))

	_, err := uniqueName(notDir, "a.bin", nil)
	require.ErrorIs(t, err, models.ErrInternal)
}

func TestFetch_LongFileNameDownloads(t *testing.T) {
	name := strings.Repeat("b", 246) + ".bin"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	t.Cleanup(srv.Close)

	f, root := newFetcher(t, 0)
	ids, err := f.Enqueue(context.Background(), models.EnqueueRequest{StorageID: "main", URLs: []string{srv.URL + "/" + name}})
	require.NoError(t, err)

	v := waitStatus(t, f, ids[0], models.TaskCompleted)
	require.Equal(t, name, v.FileName)
	got, err := os.ReadFile(filepath.Join(root, name))
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
	requireNoPartFiles(t, root)
}

func TestFetch_StalledSourceFails(t *testing.T) {
	g := newGate()
	srv := httptest.NewServer(g.handler([]byte("12345"), []byte("67890")))
	t.Cleanup(srv.Close)
	t.Cleanup(g.open)

	root := t.TempDir()
	src := NewHTTPSource(HTTPConfig{Timeout: 200 * time.Millisecond})
	f, err := New(Deps{
		Registry:         repo.NewMemoryStore(models.StorageRoot{ID: "main", Path: root}),
		Log:              zerolog.Nop(),
		Sources:          map[string]Source{"http": src},
		ProgressInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(f.Close)

	ids, err := f.Enqueue(context.Background(), models.EnqueueRequest{StorageID: "main", URLs: []string{srv.URL + "/slow.bin"}})
	require.NoError(t, err)

	v := waitStatus(t, f, ids[0], models.TaskFailed)
	require.Contains(t, v.Error, ErrIdleTimeout.Error())
	require.NotContains(t, v.Error, "shutdown")
	require.EqualValues(t, 5, v.Downloaded)
	requireNoPartFiles(t, root)
}

func TestFetch_ProgressPublishedWhileSourceIsSlow(t *testing.T) {
	g := newGate()
	srv := httptest.NewServer(g.handler([]byte("12345"), []byte("67890")))
	t.Cleanup(srv.Close)
	t.Cleanup(g.open)

	f, _ := newFetcher(t, 0)
	ids, err := f.Enqueue(context.Background(), models.EnqueueRequest{StorageID: "main", URLs: []string{srv.URL + "/trickle.bin"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, _ := f.Get(ids[0])
		return v.Status == models.TaskDownloading && v.Downloaded == 5
	}, 5*time.Second, 5*time.Millisecond)

	g.open()
	v := waitStatus(t, f, ids[0], models.TaskCompleted)
	require.EqualValues(t, 10, v.Downloaded)
}

func requireNoPartFiles(t *testing.T, dir string) {
	t.Helper()
	parts, err := filepath.Glob(filepath.Join(dir, ".*.part"))
	require.NoError(t, err)
	require.Empty(t, parts)
}

func TestParseS3URL(t *testing.T) {
	u, _ := url.Parse("s3://bucket/dir/obj.tar")
	b, k, err := parseS3URL(u)
	require.NoError(t, err)
	require.Equal(t, "bucket", b)
	require.Equal(t, "dir/obj.tar", k)

	u, _ = url.Parse("s3://bucket/dir/")
	_, _, err = parseS3URL(u)
	require.Error(t, err)
}
