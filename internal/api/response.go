package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"globalstats/internal/auth"
	"globalstats/internal/service"

	"go.uber.org/zap"
)

const accessDeniedMessage = "You shall not pass!"

type apiError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		if logger != nil {
			logger.Errorw("failed to encode response", "err", err)
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string, logger *zap.SugaredLogger) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}, logger)
}

func writeJSONAPIError(w http.ResponseWriter, apiErr *apiError, logger *zap.SugaredLogger) {
	if apiErr == nil {
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", logger)
		return
	}
	writeJSONError(w, apiErr.HTTPStatus, apiErr.Code, apiErr.Message, logger)
}

func mapErrorWithLog(logger *zap.SugaredLogger, err error) *apiError {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &apiError{HTTPStatus: 499, Code: "CLIENT_CLOSED", Message: "client canceled request"}
	case errors.Is(err, auth.ErrAccessDenied):
		return &apiError{HTTPStatus: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: accessDeniedMessage}
	case errors.Is(err, service.ErrInvalidUpdate):
		return &apiError{HTTPStatus: http.StatusBadRequest, Code: "BAD_REQUEST", Message: err.Error()}
	default:
		if logger != nil {
			logger.Errorw("unexpected error", "err", err)
		}
		// store failures carry their text to the caller
		return &apiError{HTTPStatus: http.StatusInternalServerError, Code: "INTERNAL", Message: err.Error()}
	}
}
