package core

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
)

// JSONResponse is the envelope every JSON endpoint answers with.
type JSONResponse struct {
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	Error   *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail carries the machine-readable error part of the envelope.
type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

type jsonRenderer struct {
	status int
	body   JSONResponse
}

func (j jsonRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSON answers 200 with code, payload, and optional meta.
func JSON(code string, data any, meta map[string]any) Response {
	return JSONWithStatus(http.StatusOK, code, data, meta)
}

// JSONWithStatus is JSON with an explicit HTTP status.
func JSONWithStatus(status int, code string, data any, meta map[string]any) Response {
	return jsonRenderer{
		status: status,
		body:   JSONResponse{Code: code, Data: data, Meta: meta},
	}
}

// JSONError maps err onto the error envelope. ValidationError answers 422
// with field details, HTTPError keeps its status and key (unwrapping through
// joined and wrapped errors), anything else answers 500.
func JSONError(err error) Response {
	status := http.StatusInternalServerError
	detail := ErrorDetail{Code: "internal_error", Message: err.Error()}

	var valErr ValidationError
	var httpErr HTTPError
	switch {
	case errors.As(err, &valErr):
		status = http.StatusUnprocessableEntity
		detail.Code = "validation_error"
		if len(valErr) > 0 {
			detail.Details = make(map[string][]string, len(valErr))
			maps.Copy(detail.Details, valErr)
		}
	case errors.As(err, &httpErr):
		status = httpErr.Code
		detail.Code = httpErr.Key
		detail.Message = http.StatusText(httpErr.Code)
	}

	return jsonRenderer{
		status: status,
		body:   JSONResponse{Code: detail.Code, Error: &detail},
	}
}
