package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"finledger/apperror"
)

var (
	errInvalidBody      = apperror.Validationf("Invalid request body")
	errRouteNotFound    = apperror.New(apperror.NotFound, http.StatusNotFound, "Not found")
	errMethodNotAllowed = apperror.New(apperror.Validation, http.StatusMethodNotAllowed, "Method not allowed")
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func writeInternal(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"status":  "error",
		"message": "Internal server error - " + detail,
	})
}

// writeError answers with the domain error's status and message. Anything
// else is logged and reported as a 500.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperror.From(err); ok && appErr.Kind != apperror.Internal {
		appErr.WriteJSON(w)
		return
	}
	a.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeInternal(w, err.Error())
}

// decode reads a JSON body into dst and answers 400 when it is malformed.
func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	errInvalidBody.WriteJSON(w)
	return false
}
