package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/auth"
	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/service"
	"github.com/bcnelson/storefront-gateway/internal/validation"
	"github.com/rs/zerolog"
)

// PasswordLogin exchanges customer credentials for a bearer token.
type PasswordLogin interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
}

// CustomerHandler handles customer login.
type CustomerHandler struct {
	login    PasswordLogin
	identity *service.CartIdentityService
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCustomerHandler creates a new CustomerHandler.
func NewCustomerHandler(login PasswordLogin, identity *service.CartIdentityService, logger zerolog.Logger) *CustomerHandler {
	return &CustomerHandler{
		login:    login,
		identity: identity,
		logger:   logger.With().Str("handler", "customer").Logger(),
		now:      time.Now,
	}
}

// Login authenticates a customer and attaches them to their cart. A guest
// cart named by X-Cart-Token is merged in immediately.
func (h *CustomerHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, h.logger, domain.NewError(domain.CategoryInvalidInput, "invalid request body", err))
		return
	}

	var errs validation.ValidationErrors
	if err := validation.ValidateEmail(req.Email); err != nil {
		errs.Add("email", req.Email, err.Error())
	}
	if req.Password == "" {
		errs.Add("password", "", "password is required")
	}
	if errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	result, err := h.login.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, domain.ErrUnauthorized) {
		handleError(w, h.logger, domain.NewError(domain.CategoryAuthentication, "invalid email or password", err))
		return
	}
	if err != nil {
		handleError(w, h.logger, domain.NewError(domain.CategoryOperationFailed, "login failed", err))
		return
	}

	resp := &domain.CustomerLoginResponse{
		AccessToken: result.IDToken,
		TokenType:   "Bearer",
		Customer:    result.Customer,
	}
	if !result.Expiry.IsZero() {
		resp.ExpiresIn = int64(result.Expiry.Sub(h.now()).Seconds())
	}

	id, err := h.identity.ResolveCustomer(r.Context(), result.Customer, credentials(r).GuestToken)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	resp.Cart = id.Response()

	respondJSON(w, http.StatusOK, resp)
}
