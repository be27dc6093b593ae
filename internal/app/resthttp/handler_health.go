package resthttp

import (
	"net/http"

	"github.com/sir_venger/drive_lite/internal/models"
)

type healthResp struct {
	Status   string                    `json:"status"`
	Sessions int                       `json:"sessions"`
	Tasks    map[models.TaskStatus]int `json:"tasks"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResp{
		Status:   "ok",
		Sessions: s.Uploads.Active(),
		Tasks:    s.Remote.Counts(),
	})
}
