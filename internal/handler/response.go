package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/AlexZinkM/pet-wallet/internal/model"
	"github.com/AlexZinkM/pet-wallet/internal/orchestrator"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, model.ErrorResponse{Error: err.Error(), Code: code})
}

// writeMappedError picks the HTTP status for a domain error
func writeMappedError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	writeError(w, status, code, err)
}

func statusForError(err error) (int, string) {
	// the direct path decides what the user is told after a fallback
	var fallback *orchestrator.FallbackError
	if errors.As(err, &fallback) {
		err = fallback.Direct
	}

	switch {
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired, model.CodeInsufficientFunds
	case errors.Is(err, model.ErrBundleFailed):
		return http.StatusUnprocessableEntity, model.CodeBundleFailed
	case errors.Is(err, model.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, model.CodeTimeout
	case model.IsRelayRejected(err):
		return http.StatusBadGateway, model.CodeRelayRejected
	case errors.Is(err, model.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, model.CodeStorageUnavailable
	case errors.Is(err, model.ErrInvalidParams):
		return http.StatusBadRequest, model.CodeInvalidRequest
	default:
		return http.StatusInternalServerError, model.CodeInternal
	}
}
