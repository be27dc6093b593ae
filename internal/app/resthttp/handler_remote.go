package resthttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/pkg/driveproto"
	"github.com/sir_venger/drive_lite/pkg/httperrors"
)

func (s *Server) postRemote(w http.ResponseWriter, r *http.Request) {
	var req driveproto.EnqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}

	ids, err := s.Remote.Enqueue(r.Context(), models.EnqueueRequest{
		StorageID: chi.URLParam(r, "storageID"),
		TargetDir: req.Path,
		URLs:      req.URLs,
		Owner:     PrincipalFrom(r.Context()),
	})
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Strs("tasks", ids).Msg("remote downloads queued")
	writeJSON(w, http.StatusAccepted, driveproto.EnqueueResponse{TaskIDs: ids})
}

func (s *Server) listRemote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.TaskFilter{
		StorageID: q.Get("storage"),
		TargetDir: q.Get("path"),
	}
	if v := q.Get("status"); v != "" {
		st, err := models.ParseTaskStatus(v)
		if err != nil {
			httperrors.Write(w, r, err)
			return
		}
		filter.Status = st
	}
	writeJSON(w, http.StatusOK, s.Remote.List(filter))
}

func (s *Server) deleteRemote(w http.ResponseWriter, r *http.Request) {
	if err := s.Remote.Cancel(chi.URLParam(r, "taskID")); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearRemote(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, driveproto.ClearResponse{Removed: s.Remote.Clear()})
}
