package resthttp

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/usecase/uploadsvc"
	"github.com/sir_venger/drive_lite/pkg/driveproto"
	"github.com/sir_venger/drive_lite/pkg/httperrors"
)

func (s *Server) postUpload(w http.ResponseWriter, r *http.Request) {
	var req driveproto.InitRequest
	if err := decodeJSON(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}

	ticket, err := s.Uploads.Init(r.Context(), models.InitUpload{
		StorageID:     chi.URLParam(r, "storageID"),
		TargetDir:     req.Path,
		FileName:      req.FileName,
		FileSize:      req.FileSize,
		MimeType:      req.MimeType,
		ChunkSizeHint: req.ChunkSize,
		Owner:         PrincipalFrom(r.Context()),
	})
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().
		Str("session", ticket.SessionID).
		Str("file", req.FileName).
		Int("chunks", ticket.TotalChunks).
		Msg("upload session opened")
	writeJSON(w, http.StatusCreated, ticket)
}

func (s *Server) putChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httperrors.Write(w, r, models.Invalid("chunk index must be an integer"))
		return
	}

	receipt, err := s.Uploads.PutChunk(r.Context(), chi.URLParam(r, "sessionID"), index, uploadsvc.ChunkBody{
		Reader: r.Body,
		Sha256: r.Header.Get(driveproto.HeaderChecksum),
	})
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) getUpload(w http.ResponseWriter, r *http.Request) {
	st, err := s.Uploads.Status(chi.URLParam(r, "sessionID"))
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) postComplete(w http.ResponseWriter, r *http.Request) {
	res, err := s.Uploads.Complete(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Str("path", res.Path).Int64("size", res.File.Size).Msg("upload completed")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deleteUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.Uploads.Cancel(chi.URLParam(r, "sessionID")); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
