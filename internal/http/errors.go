package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"carelink/internal/core"
)

type errorBody struct {
	Error string `json:"error"`
}

// fail maps a core error onto a status and a caller-safe message.  Store,
// identity and model details only reach the log.
func (s *Server) fail(c echo.Context, err error) error {
	status, msg := classify(err)
	rid, _ := c.Get("request_id").(string)
	evt := s.Log.Warn()
	if status >= http.StatusInternalServerError {
		evt = s.Log.Error()
	}
	evt.Err(err).Str("request_id", rid).Int("status", status).Msg("request failed")
	return c.JSON(status, errorBody{Error: msg})
}

func classify(err error) (int, string) {
	var verr *core.ValidationError
	var upErr *core.UpstreamError
	var aerr *core.AnalysisError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Reason
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized, core.ErrUnauthorized.Error()
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden, core.ErrForbidden.Error()
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, strings.TrimPrefix(err.Error(), core.ErrConflict.Error()+": ")
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, core.ErrNotFound.Error()
	case errors.Is(err, core.ErrNoLinkedDoctor):
		return http.StatusBadRequest, core.ErrNoLinkedDoctor.Error()
	case errors.As(err, &aerr):
		return http.StatusBadGateway, "an error occurred during analysis"
	case errors.As(err, &upErr):
		return http.StatusBadGateway, "an error occurred, please try again"
	}
	return http.StatusInternalServerError, "internal server error"
}
