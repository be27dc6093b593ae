package integration

import (
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sir_venger/drive_lite/internal/app/resthttp"
	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/repo"
	"github.com/sir_venger/drive_lite/internal/usecase/archivesvc"
	"github.com/sir_venger/drive_lite/internal/usecase/fetchsvc"
	"github.com/sir_venger/drive_lite/internal/usecase/uploadsvc"
	"github.com/sir_venger/drive_lite/pkg/driveclient"
)

const secret = "integration-secret"

// stack — весь сервер поверх временного хранилища и клиент к нему.
type stack struct {
	root   string
	shift  atomic.Int64
	server *httptest.Server
	client *driveclient.Client
}

func newStack(t *testing.T) *stack {
	t.Helper()
	st := &stack{root: t.TempDir()}
	reg := repo.NewMemoryStore(models.StorageRoot{ID: "home", Name: "home", Path: st.root})

	uploads, err := uploadsvc.New(uploadsvc.Deps{
		Registry:     reg,
		Log:          zerolog.Nop(),
		TempDir:      filepath.Join(t.TempDir(), "uploads"),
		ChunkSize:    64 << 10,
		MinChunkSize: 1 << 10,
		MaxChunkSize: 1 << 20,
		Now:          func() time.Time { return time.Now().Add(time.Duration(st.shift.Load())) },
	})
	if err != nil {
		t.Fatal(err)
	}
	fetcher, err := fetchsvc.New(fetchsvc.Deps{Registry: reg, Log: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(fetcher.Close)
	archives, err := archivesvc.New(archivesvc.Deps{Registry: reg, Log: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}

	auth := resthttp.NewAuthenticator(secret, "")
	h, _ := resthttp.NewServer(resthttp.Deps{
		Uploads:    uploads,
		Remote:     fetcher,
		Archives:   archives,
		Auth:       auth,
		Log:        zerolog.Nop(),
		SessionTTL: 24 * time.Hour,
	})
	st.server = httptest.NewServer(h)
	t.Cleanup(st.server.Close)

	token, err := auth.Issue("tester", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	st.client = driveclient.New(st.server.URL, token)
	return st
}
