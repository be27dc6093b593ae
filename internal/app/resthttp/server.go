package resthttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/sir_venger/drive_lite/internal/config"
	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/usecase/archivesvc"
	"github.com/sir_venger/drive_lite/internal/usecase/fetchsvc"
	"github.com/sir_venger/drive_lite/internal/usecase/uploadsvc"
)

type Deps struct {
	Uploads  uploadsvc.Service
	Remote   fetchsvc.Service
	Archives archivesvc.Service
	Auth     *Authenticator
	Log      zerolog.Logger
	Cfg      *config.Config
	// SessionTTL — возраст сессии, после которого ручной GC её удаляет.
	SessionTTL time.Duration
}

type Server struct {
	Deps
}

// NewServer собирает chi-роутер со всеми обработчиками API.
func NewServer(deps Deps) (http.Handler, *Server) {
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = 24 * time.Hour
	}
	srv := &Server{Deps: deps}

	rtr := chi.NewRouter()
	rtr.Use(
		hlog.NewHandler(deps.Log),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(accessLog),
		middleware.Recoverer,
	)

	rtr.Get("/health", srv.health)

	rtr.Group(func(r chi.Router) {
		r.Use(deps.Auth.Middleware)

		r.Route("/api/storages/{storageID}", func(sr chi.Router) {
			sr.Post("/uploads", srv.postUpload)
			sr.Put("/files", srv.putFile)
			sr.Post("/remote", srv.postRemote)
			sr.Post("/archive/extract", srv.postExtract)
			sr.Post("/archive/compress", srv.postCompress)
		})

		r.Route("/api/uploads/{sessionID}", func(ur chi.Router) {
			ur.Get("/", srv.getUpload)
			ur.Delete("/", srv.deleteUpload)
			ur.Put("/chunks/{index}", srv.putChunk)
			ur.Post("/complete", srv.postComplete)
		})

		r.Get("/api/remote", srv.listRemote)
		r.Post("/api/remote/clear", srv.clearRemote)
		r.Delete("/api/remote/{taskID}", srv.deleteRemote)

		r.HandleFunc("/admin/gc", srv.gcOnce)
		r.Get("/admin/config", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, deps.Cfg) })
	})

	return rtr, srv
}

func accessLog(r *http.Request, status, size int, dur time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Stringer("url", r.URL).
		Int("status", status).
		Int("size", size).
		Dur("duration", dur).
		Msg("")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.Invalid("malformed request body: %v", err)
	}
	return nil
}
