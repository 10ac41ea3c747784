package api

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/shmview/internal/connection"
	"github.com/smazurov/shmview/internal/decoder"
	"github.com/smazurov/shmview/internal/preview"
	"github.com/smazurov/shmview/internal/shm"
	"github.com/smazurov/shmview/internal/viewer"
)

// mapViewerError converts domain errors to HTTP errors.
func (s *Server) mapViewerError(err error) error {
	var cerr *connection.Error
	if errors.As(err, &cerr) {
		switch cerr.Code {
		case connection.ErrCodeReconnectTooSoon:
			return huma.Error429TooManyRequests(cerr.Message)
		case connection.ErrCodeNoConfiguration, connection.ErrCodeNotConnected, connection.ErrCodeMaxReconnectAttempts:
			return huma.Error409Conflict(cerr.Message)
		case connection.ErrCodeConnectFailed, connection.ErrCodeReconnectFailed, connection.ErrCodeConnectionLost:
			return huma.Error502BadGateway(cerr.Error())
		}
	}

	var serr *shm.Error
	if errors.As(err, &serr) && serr.Code == shm.ErrCodeInvalidName {
		return huma.Error422UnprocessableEntity(serr.Message)
	}
	var derr *decoder.Error
	if errors.As(err, &derr) {
		return huma.Error422UnprocessableEntity(derr.Message)
	}
	var verr *viewer.ValidationError
	if errors.As(err, &verr) {
		return huma.Error422UnprocessableEntity(verr.Error())
	}

	switch {
	case errors.Is(err, viewer.ErrNotRunning):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, preview.ErrDisabled):
		return huma.NewError(http.StatusNotFound, err.Error())
	}

	s.logger.Error("Request failed", "error", err)
	return huma.Error500InternalServerError("internal error", err)
}
