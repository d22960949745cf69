package api

import (
	"encoding/json"
	"net/http"

	"github.com/enactprotocol/enact/errcode"
)

var statusForCode = map[errcode.Code]int{
	errcode.NotFound:          http.StatusNotFound,
	errcode.Conflict:          http.StatusConflict,
	errcode.Unauthorized:      http.StatusUnauthorized,
	errcode.NamespaceMismatch: http.StatusForbidden,
	errcode.ValidationError:   http.StatusUnprocessableEntity,
	errcode.VersionYanked:     http.StatusGone,
	errcode.BadRequest:        http.StatusBadRequest,
}

type errorResponse struct {
	Error struct {
		Code    errcode.Code   `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// writeError renders err as the registry's standard JSON error envelope,
// mapping its errcode.Code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	e, ok := errcode.As(err)
	if !ok {
		e = errcode.New(errcode.BadRequest, err.Error())
	}
	status, ok := statusForCode[e.Code]
	if !ok {
		status = http.StatusInternalServerError
	}

	var resp errorResponse
	resp.Error.Code = e.Code
	resp.Error.Message = e.Message
	resp.Error.Details = e.Details

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
