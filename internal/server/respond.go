package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tournevent/courierbridge/pkg/shipping"
	"go.uber.org/zap"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Provider     string `json:"provider,omitempty"`
	ProviderCode string `json:"providerCode,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
}

// errorStatus maps the error taxonomy onto HTTP status codes and stable codes.
var errorStatus = []struct {
	kind   error
	status int
	code   string
}{
	{shipping.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{shipping.ErrProviderNotFound, http.StatusNotFound, "provider_not_found"},
	{shipping.ErrSelectionEmpty, http.StatusUnprocessableEntity, "selection_empty"},
	{shipping.ErrNotServiceable, http.StatusUnprocessableEntity, "not_serviceable"},
	{shipping.ErrNotInitialized, http.StatusServiceUnavailable, "not_initialized"},
	{shipping.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
	{shipping.ErrAuthentication, http.StatusBadGateway, "authentication_failed"},
	{shipping.ErrRateUnavailable, http.StatusBadGateway, "rate_unavailable"},
	{shipping.ErrMalformedResponse, http.StatusBadGateway, "malformed_response"},
	{shipping.ErrConfiguration, http.StatusInternalServerError, "configuration_error"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

func classify(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.kind) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	s.writeErrorStatus(w, r, status, code, err)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	detail := errorDetail{Code: code, Message: err.Error()}

	var perr *shipping.ProviderError
	if errors.As(err, &perr) {
		detail.Provider = perr.Provider
		detail.ProviderCode = perr.Code
		detail.Retryable = perr.Retryable
	}

	if status >= http.StatusInternalServerError {
		s.logger.Ctx(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	} else {
		s.logger.Ctx(r.Context()).Debug("Request rejected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	s.writeJSON(w, status, errorBody{Error: detail})
}

// decode reads a JSON body into v. Decoding failures are invalid requests.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", shipping.ErrInvalidRequest, tooLarge.Limit)
		}
		return fmt.Errorf("%w: invalid JSON: %v", shipping.ErrInvalidRequest, err)
	}
	return nil
}
