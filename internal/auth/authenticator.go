// Package auth resolves customer bearer tokens to customer identities.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/bcnelson/storefront-gateway/internal/domain"
)

// Authenticator validates a customer bearer token.
// Implementations return an error wrapping domain.ErrUnauthorized when the
// token is not a valid customer token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Customer, error)
}

// Chain tries each authenticator in order and returns the first customer
// resolved.
type Chain []Authenticator

// Authenticate implements Authenticator.
func (c Chain) Authenticate(ctx context.Context, token string) (*domain.Customer, error) {
	var errs []error
	for _, a := range c {
		customer, err := a.Authenticate(ctx, token)
		if err == nil {
			return customer, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no authenticator configured", domain.ErrUnauthorized)
	}
	return nil, errors.Join(errs...)
}
