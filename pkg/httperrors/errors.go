package httperrors

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/sir_venger/drive_lite/internal/models"
)

// Status переводит доменную ошибку в HTTP-статус.
func Status(err error) int {
	switch {
	case errors.Is(err, models.ErrPathViolation):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrIncomplete), errors.Is(err, models.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, models.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Write пишет ошибку в ответ; внутренние ошибки логируются и наружу не раскрываются.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	code := Status(err)
	if code >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Int("status", code).Msg("request failed")
		http.Error(w, http.StatusText(code), code)
		return
	}
	http.Error(w, err.Error(), code)
}
