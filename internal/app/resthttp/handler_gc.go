package resthttp

import (
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/sir_venger/drive_lite/pkg/driveproto"
)

// gcOnce принудительно удаляет просроченные сессии загрузки.
func (s *Server) gcOnce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	removed := s.Uploads.SweepExpired(s.SessionTTL)
	hlog.FromRequest(r).Info().Int("removed", removed).Msg("manual gc")
	writeJSON(w, http.StatusOK, driveproto.GCResponse{Removed: removed})
}
