package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"ingest-worker-service/internal/entity"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// writeServiceErr maps domain errors to status codes. Unknown errors are logged and
// reported without detail.
func writeServiceErr(w http.ResponseWriter, log *zap.SugaredLogger, err error) {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, entity.ErrCollectionNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, entity.ErrInvalidInput):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, entity.ErrInvalidTransition):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		log.Errorw("request failed", "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}
