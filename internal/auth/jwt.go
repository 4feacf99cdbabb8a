package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// CustomerClaims are the claims carried by a customer bearer token.
type CustomerClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 customer tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTAuthenticator creates a JWTAuthenticator. An empty issuer disables the
// issuer check.
func NewJWTAuthenticator(secret, issuer string, ttl time.Duration) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTAuthenticator{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Authenticate parses and validates token.
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (*domain.Customer, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims CustomerClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}

	return &domain.Customer{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
	}, nil
}

// Issue signs a token for customer. It returns the token and its expiry.
func (a *JWTAuthenticator) Issue(customer *domain.Customer) (string, time.Time, error) {
	now := a.now()
	expiry := now.Add(a.ttl)
	claims := CustomerClaims{
		Email: customer.Email,
		Name:  customer.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   customer.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiry, nil
}
