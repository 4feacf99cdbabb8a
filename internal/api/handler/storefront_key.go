package handler

import (
	"net/http"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// StorefrontKeyHandler handles the admin storefront key endpoints.
type StorefrontKeyHandler struct {
	keys   *service.StorefrontKeyService
	logger zerolog.Logger
}

// NewStorefrontKeyHandler creates a new StorefrontKeyHandler.
func NewStorefrontKeyHandler(keys *service.StorefrontKeyService, logger zerolog.Logger) *StorefrontKeyHandler {
	return &StorefrontKeyHandler{
		keys:   keys,
		logger: logger.With().Str("handler", "storefront_key").Logger(),
	}
}

// Create issues a new storefront key. The secret is only returned here.
func (h *StorefrontKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateStorefrontKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, h.logger, domain.NewError(domain.CategoryInvalidInput, "invalid request body", err))
		return
	}

	resp, err := h.keys.Issue(r.Context(), &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, resp)
}

// List lists storefront keys (without the actual key values).
func (h *StorefrontKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context(), domain.KeyType(r.URL.Query().Get("key_type")))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if keys == nil {
		keys = []*domain.StorefrontKey{}
	}

	respondJSON(w, http.StatusOK, keys)
}

// Get returns a single storefront key.
func (h *StorefrontKeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	SetStorefrontKeyETag(w, key)
	respondJSON(w, http.StatusOK, key)
}

// Rotate replaces a key. The predecessor keeps working for the grace period.
func (h *StorefrontKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	var req domain.RotateStorefrontKeyRequest
	// An empty body means the default grace period.
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, h.logger, domain.NewError(domain.CategoryInvalidInput, "invalid request body", err))
			return
		}
	}

	if !h.ifMatch(w, r) {
		return
	}

	resp, err := h.keys.Rotate(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, resp)
}

// Revoke soft-deletes a key.
func (h *StorefrontKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if !h.ifMatch(w, r) {
		return
	}

	if err := h.keys.Revoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Chain returns the rotation history of a key, newest first.
func (h *StorefrontKeyHandler) Chain(w http.ResponseWriter, r *http.Request) {
	chain, err := h.keys.Chain(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, chain)
}

// ifMatch rejects a change made against a stale view of the key. It only
// loads the key when the request carries If-Match.
func (h *StorefrontKeyHandler) ifMatch(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("If-Match") == "" {
		return true
	}
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return false
	}
	if !CheckStorefrontKeyIfMatch(r, key) {
		RespondPreconditionFailed(w, "storefront_key", key.ID, key.UpdatedAt)
		return false
	}
	return true
}
