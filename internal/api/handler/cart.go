package handler

import (
	"net/http"

	"github.com/bcnelson/storefront-gateway/internal/api/middleware"
	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// CartHandler handles the shop cart endpoints.
type CartHandler struct {
	identity *service.CartIdentityService
	carts    *service.CartService
	logger   zerolog.Logger
}

// NewCartHandler creates a new CartHandler.
func NewCartHandler(identity *service.CartIdentityService, carts *service.CartService, logger zerolog.Logger) *CartHandler {
	return &CartHandler{
		identity: identity,
		carts:    carts,
		logger:   logger.With().Str("handler", "cart").Logger(),
	}
}

// Get returns the caller's cart. It never creates one.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resolve(w, r, service.Resume)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, id)
}

// AddItem adds a product to the caller's cart, starting a guest cart when the
// caller has none.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req domain.AddCartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, h.logger, domain.NewError(domain.CategoryInvalidInput, "invalid request body", err))
		return
	}

	id, ok := h.resolve(w, r, service.ResumeOrCreate)
	if !ok {
		return
	}

	cart, err := h.carts.AddItem(r.Context(), id.Cart, &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	id.Cart = cart

	status := http.StatusOK
	if id.State == service.StateNewGuest {
		status = http.StatusCreated
	}
	h.respond(w, status, id)
}

// UpdateItem sets the quantity of a cart line.
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateCartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, h.logger, domain.NewError(domain.CategoryInvalidInput, "invalid request body", err))
		return
	}

	id, ok := h.resolve(w, r, service.Resume)
	if !ok {
		return
	}

	if !h.ifMatch(w, r, id.Cart) {
		return
	}

	cart, err := h.carts.UpdateItem(r.Context(), id.Cart, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	id.Cart = cart
	h.respond(w, http.StatusOK, id)
}

// RemoveItem deletes a cart line.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resolve(w, r, service.Resume)
	if !ok {
		return
	}

	if !h.ifMatch(w, r, id.Cart) {
		return
	}

	cart, err := h.carts.RemoveItem(r.Context(), id.Cart, chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	id.Cart = cart
	h.respond(w, http.StatusOK, id)
}

// Clear removes every line from the caller's cart.
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resolve(w, r, service.Resume)
	if !ok {
		return
	}

	if !h.ifMatch(w, r, id.Cart) {
		return
	}

	cart, err := h.carts.Clear(r.Context(), id.Cart)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	id.Cart = cart
	h.respond(w, http.StatusOK, id)
}

// Merge merges the guest cart named by X-Cart-Token into the customer's cart.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	id, err := h.identity.Merge(r.Context(), credentials(r))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, id)
}

// RotateToken replaces the guest cart token. The previous token stops working.
func (h *CartHandler) RotateToken(w http.ResponseWriter, r *http.Request) {
	id, err := h.identity.RotateGuestToken(r.Context(), credentials(r))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, id)
}

func (h *CartHandler) resolve(w http.ResponseWriter, r *http.Request, intent service.Intent) (*service.CartIdentity, bool) {
	id, err := h.identity.Resolve(r.Context(), credentials(r), intent)
	if err != nil {
		handleError(w, h.logger, err)
		return nil, false
	}
	return id, true
}

// ifMatch rejects a change made against a stale view of the cart.
func (h *CartHandler) ifMatch(w http.ResponseWriter, r *http.Request, cart *domain.Cart) bool {
	if CheckCartIfMatch(r, cart) {
		return true
	}
	RespondPreconditionFailed(w, "cart", cart.ID, cart.UpdatedAt)
	return false
}

func (h *CartHandler) respond(w http.ResponseWriter, status int, id *service.CartIdentity) {
	SetCartETag(w, id.Cart)
	if id.GuestToken != "" {
		w.Header().Set(middleware.HeaderCartToken, id.GuestToken)
	}
	respondJSON(w, status, id.Response())
}
