package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/domain"
)

// GenerateETag generates an ETag for a resource based on its ID and updated_at timestamp.
// Format: "<resource_type>-<id>-<updated_at_unix_nano>"
func GenerateETag(resourceType, id string, updatedAt time.Time) string {
	return fmt.Sprintf(`"%s-%s-%d"`, resourceType, id, updatedAt.UnixNano())
}

// SetETagHeader sets the ETag header on the response.
func SetETagHeader(w http.ResponseWriter, resourceType, id string, updatedAt time.Time) {
	w.Header().Set("ETag", GenerateETag(resourceType, id, updatedAt))
}

// CheckIfMatch checks if the If-Match header matches the current ETag.
// A request without If-Match always passes.
func CheckIfMatch(r *http.Request, resourceType, id string, updatedAt time.Time) bool {
	ifMatch := r.Header.Get("If-Match")
	if ifMatch == "" || ifMatch == "*" {
		return true
	}
	return ifMatch == GenerateETag(resourceType, id, updatedAt)
}

// RespondPreconditionFailed writes a 412 Precondition Failed response.
func RespondPreconditionFailed(w http.ResponseWriter, resourceType, id string, updatedAt time.Time) {
	details := map[string]any{"currentETag": GenerateETag(resourceType, id, updatedAt)}
	respondError(w, http.StatusPreconditionFailed, domain.StandardError{
		Code:     domain.ErrCodePreconditionFailed,
		Category: domain.CategoryConflict,
		Message:  "resource has been modified",
		Details:  details,
	})
}

// Cart ETag helpers
func SetCartETag(w http.ResponseWriter, cart *domain.Cart) {
	SetETagHeader(w, "cart", cart.ID, cart.UpdatedAt)
}

func CheckCartIfMatch(r *http.Request, cart *domain.Cart) bool {
	return CheckIfMatch(r, "cart", cart.ID, cart.UpdatedAt)
}

// StorefrontKey ETag helpers
func SetStorefrontKeyETag(w http.ResponseWriter, key *domain.StorefrontKey) {
	SetETagHeader(w, "storefront_key", key.ID, key.UpdatedAt)
}

func CheckStorefrontKeyIfMatch(r *http.Request, key *domain.StorefrontKey) bool {
	return CheckIfMatch(r, "storefront_key", key.ID, key.UpdatedAt)
}
