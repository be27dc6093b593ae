package resthttp

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/usecase/uploadsvc"
	"github.com/sir_venger/drive_lite/pkg/driveproto"
	"github.com/sir_venger/drive_lite/pkg/httperrors"
)

// putFile — загрузка файла целиком одним запросом, без сессии.
func (s *Server) putFile(w http.ResponseWriter, r *http.Request) {
	name := extractFileName(r)
	if name == "" {
		httperrors.Write(w, r, models.Invalid("file name is required"))
		return
	}

	res, err := s.Uploads.UploadSimple(r.Context(), uploadsvc.SimpleUpload{
		StorageID: chi.URLParam(r, "storageID"),
		TargetDir: r.URL.Query().Get("path"),
		FileName:  name,
		Size:      r.ContentLength,
		Reader:    r.Body,
	})
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func extractFileName(r *http.Request) string {
	if v := strings.TrimSpace(r.URL.Query().Get("name")); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get(driveproto.HeaderFileName))
}
