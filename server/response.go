package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"XSlicer/core/apperr"
	"XSlicer/core/pipeline"
	"XSlicer/logger"
	"XSlicer/model"
)

// SongResponse is the success body: the record fields plus the pipeline status.
type SongResponse struct {
	Status string `json:"status,omitempty"`
	*model.ContentRecord
}

// ErrorResponse is the failure body of every song endpoint.
type ErrorResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

// statusForError maps an error kind to its HTTP status.
func statusForError(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch apperr.KindOf(err) {
	case apperr.KindResolution:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindFetch:
		return http.StatusBadGateway
	case apperr.KindAnalysis:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func newErrorResponse(err error) *ErrorResponse {
	resp := &ErrorResponse{Status: string(pipeline.StatusFailed), Error: "InternalError", Message: err.Error()}
	if e, ok := apperr.As(err); ok {
		resp.Error = string(e.Kind)
		resp.Stage = e.Stage
		resp.Message = e.Err.Error()
	}
	return resp
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), newErrorResponse(err))
}

// writeMessage writes a plain {"message": ...} body for non-pipeline errors.
func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func writeResult(w http.ResponseWriter, res *pipeline.Result, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &SongResponse{Status: string(res.Status), ContentRecord: res.Record})
}
