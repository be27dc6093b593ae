package resthttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sir_venger/drive_lite/pkg/driveproto"
	"github.com/sir_venger/drive_lite/pkg/httperrors"
)

func (s *Server) postExtract(w http.ResponseWriter, r *http.Request) {
	var req driveproto.ExtractRequest
	if err := decodeJSON(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}

	out, err := s.Archives.Extract(r.Context(), chi.URLParam(r, "storageID"), req.Path, req.Name)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, driveproto.PathResponse{Path: out})
}

func (s *Server) postCompress(w http.ResponseWriter, r *http.Request) {
	var req driveproto.CompressRequest
	if err := decodeJSON(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}

	out, err := s.Archives.Compress(r.Context(), chi.URLParam(r, "storageID"), req.Path, req.Names, req.ArchiveName)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, driveproto.PathResponse{Path: out})
}
