// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. Generic codes mirror HTTP status semantics, domain codes
// name pipeline outcomes that the status alone cannot convey.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_published",
//	  "message": "window has no published article"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/tbourn/lifelog-publisher/internal/failure"
	"github.com/tbourn/lifelog-publisher/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeTooLarge         = "payload_too_large"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidMessage   = "invalid_message"
	ErrCodeNotPublished     = "not_published"
	ErrCodeUpstreamRejected = "upstream_rejected"
	ErrCodeUpstreamDown     = "upstream_unavailable"
	ErrCodeIngestFailed     = "ingest_failed"
)

// classify maps a service error to an HTTP status and code. Unrecognized
// errors become 500 with fallback as the code.
func classify(err error, fallback string) (status int, code, msg string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large"
	case errors.Is(err, services.ErrInvalidMessage),
		errors.Is(err, services.ErrInvalidKind),
		errors.Is(err, services.ErrEmptyMessage):
		return http.StatusBadRequest, ErrCodeInvalidMessage, err.Error()
	case errors.Is(err, services.ErrWindowNotFound):
		return http.StatusNotFound, ErrCodeNotFound, err.Error()
	case errors.Is(err, services.ErrNotPublished):
		return http.StatusConflict, ErrCodeNotPublished, err.Error()
	}
	switch failure.KindOf(err) {
	case failure.RejectedByProvider:
		return http.StatusBadGateway, ErrCodeUpstreamRejected, err.Error()
	case failure.TransientExternal:
		return http.StatusServiceUnavailable, ErrCodeUpstreamDown, err.Error()
	}
	return http.StatusInternalServerError, fallback, err.Error()
}
