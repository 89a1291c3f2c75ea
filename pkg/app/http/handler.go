// Package http holds the HTTP plumbing shared by the API routes.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/chainsafe/icco-contributor/pkg/app/errors"
)

// HandlerFunc is an http handler that reports failures as errors.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// HandleError adapts h to http.HandlerFunc, rendering returned errors.
func HandleError(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			DefaultErrorHandler(w, err)
		}
	}
}

// DefaultErrorHandler writes err as {"error", "code"}. Errors that are not a
// ServiceError are reported without detail.
func DefaultErrorHandler(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: "Unexpected Service Error", Code: http.StatusInternalServerError}

	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		resp = errorResponse{Error: svcErr.Message, Code: svcErr.StatusCode()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	_ = json.NewEncoder(w).Encode(&resp)
}
