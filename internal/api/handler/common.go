package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bcnelson/storefront-gateway/internal/api/middleware"
	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/service"
	"github.com/bcnelson/storefront-gateway/internal/validation"
	"github.com/rs/zerolog"
)

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, e domain.StandardError) {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	respondJSON(w, status, &domain.StandardErrorResponse{Error: e})
}

func respondValidationErrors(w http.ResponseWriter, errs validation.ValidationErrors) {
	respondError(w, http.StatusBadRequest, errs.StandardError())
}

// handleError converts domain errors to HTTP errors. Only the category and a
// client-safe message are rendered; causes are logged.
func handleError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		respondValidationErrors(w, verrs)
		return
	}

	category := domain.CategoryOf(err)
	message := ""
	retryAfter := 0
	var de *domain.Error
	if errors.As(err, &de) {
		message = de.Message
		retryAfter = de.RetryAfter
	}

	var status int
	var code string
	switch category {
	case domain.CategoryInvalidInput:
		status, code = http.StatusBadRequest, domain.ErrCodeInvalidInput
		if message == "" {
			message = "invalid input"
		}
	case domain.CategoryAuthentication:
		status, code = http.StatusUnauthorized, domain.ErrCodeUnauthorized
		if message == "" {
			message = "unauthorized"
		}
	case domain.CategoryAuthorization:
		status, code = http.StatusForbidden, domain.ErrCodeForbidden
		if message == "" {
			message = "forbidden"
		}
	case domain.CategoryNotFound:
		status, code = http.StatusNotFound, domain.ErrCodeResourceNotFound
		if message == "" {
			message = "not found"
		}
	case domain.CategoryConflict:
		status, code = http.StatusConflict, domain.ErrCodeResourceAlreadyExists
		if message == "" {
			message = "already exists"
		}
	case domain.CategoryRateLimitExceeded:
		status, code = http.StatusBadRequest, domain.ErrCodeRateLimited
		if message == "" {
			message = "rate limit exceeded"
		}
	default:
		logger.Error().Err(err).Msg("request failed")
		status, code = http.StatusInternalServerError, domain.ErrCodeInternalError
		if message == "" {
			message = "internal server error"
		}
	}

	respondError(w, status, domain.StandardError{
		Code:       code,
		Category:   category,
		Message:    message,
		RetryAfter: retryAfter,
	})
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// credentials extracts the customer bearer token and guest cart token.
func credentials(r *http.Request) service.Credentials {
	var bearer string
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		bearer = strings.TrimSpace(h[7:])
	}
	return service.Credentials{
		BearerToken: bearer,
		GuestToken:  strings.TrimSpace(r.Header.Get(middleware.HeaderCartToken)),
	}
}
