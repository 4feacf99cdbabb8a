package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider verifies customer ID tokens issued by an external identity
// provider and performs password logins against it.
type OIDCProvider struct {
	provider       *oidc.Provider
	oauth2Config   *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	allowedDomains []string
}

// OIDCClaims represents the claims from an ID token.
type OIDCClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// NewOIDCProvider creates a new OIDC provider with discovery.
func NewOIDCProvider(ctx context.Context, issuerURL, clientID, clientSecret string, scopes, allowedDomains []string) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	oauth2Config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	return &OIDCProvider{
		provider:       provider,
		oauth2Config:   oauth2Config,
		verifier:       verifier,
		allowedDomains: allowedDomains,
	}, nil
}

// Authenticate verifies an ID token and returns the customer it names.
func (p *OIDCProvider) Authenticate(ctx context.Context, rawIDToken string) (*domain.Customer, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to verify ID token: %v", domain.ErrUnauthorized, err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", domain.ErrUnauthorized, err)
	}
	claims.Subject = idToken.Subject

	if err := ValidateClaims(&claims, p.allowedDomains); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	return claims.Customer(), nil
}

// LoginResult contains the result of a password login.
type LoginResult struct {
	Customer *domain.Customer
	IDToken  string
	Expiry   time.Time
}

// Login exchanges customer credentials for an ID token using the resource
// owner password grant.
func (p *OIDCProvider) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	token, err := p.oauth2Config.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnauthorized, retrieveErr.ErrorCode)
		}
		return nil, fmt.Errorf("failed to request token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}

	customer, err := p.Authenticate(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Customer: customer,
		IDToken:  rawIDToken,
		Expiry:   token.Expiry,
	}, nil
}

// Customer converts the claims into a customer identity.
func (c *OIDCClaims) Customer() *domain.Customer {
	return &domain.Customer{
		ID:    c.Subject,
		Email: c.Email,
		Name:  c.Name,
	}
}

// ValidateClaims checks that the claims name a subject and, when
// allowedDomains is set, that the email belongs to one of them.
func ValidateClaims(claims *OIDCClaims, allowedDomains []string) error {
	if claims.Subject == "" {
		return fmt.Errorf("subject claim is required")
	}

	if len(allowedDomains) > 0 {
		emailParts := strings.Split(claims.Email, "@")
		if len(emailParts) != 2 {
			return fmt.Errorf("invalid email format")
		}
		emailDomain := strings.ToLower(emailParts[1])

		for _, d := range allowedDomains {
			if strings.ToLower(d) == emailDomain {
				return nil
			}
		}
		return fmt.Errorf("email domain %s is not allowed", emailDomain)
	}

	return nil
}
