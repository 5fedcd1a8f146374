package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/tabstate/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// storageError maps a backend failure onto a status code and error type.
func storageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrQuotaExceeded):
		httpError(w, http.StatusRequestEntityTooLarge, "quota_exceeded_error", "%v", err)
	case errors.Is(err, storage.ErrClosed):
		httpError(w, http.StatusServiceUnavailable, "unavailable_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "storage_error", "%v", err)
	}
}
