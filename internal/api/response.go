package api

import (
	"errors"
	"net/http"

	"github.com/AdarCohen1/MathStARz/internal/game"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/store"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type errorBody struct {
	Detail string `json:"detail"`
}

type statusBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type loginBody struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	User    *store.User `json:"user"`
}

// details overrides the default detail text for specific domain errors.
type details map[error]string

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// writeBool writes the JSON string "true" or "false", which is what game
// clients match on.
func writeBool(w http.ResponseWriter, v bool) {
	if v {
		writeJSON(w, http.StatusOK, "true")
		return
	}
	writeJSON(w, http.StatusOK, "false")
}

// respondError maps a domain error to its status code. Anything that is not
// a domain error is logged and reported as a 500.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error, d details) {
	for _, target := range []struct {
		err    error
		status int
	}{
		{game.ErrNotFound, http.StatusNotFound},
		{game.ErrConflict, http.StatusBadRequest},
		{game.ErrUnauthorized, http.StatusUnauthorized},
		{game.ErrInvalidInput, http.StatusBadRequest},
	} {
		if !errors.Is(err, target.err) {
			continue
		}
		msg, ok := d[target.err]
		if !ok {
			msg = target.err.Error()
		}
		writeDetail(w, target.status, msg)
		return
	}

	logger.FromContext(r.Context(), h.logger).Error("request failed", err,
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
	writeDetail(w, http.StatusInternalServerError, "internal server error")
}
