package domain

import "time"

// KeyType distinguishes shop-facing keys from admin keys.
type KeyType string

const (
	KeyTypeShop  KeyType = "shop"
	KeyTypeAdmin KeyType = "admin"
)

// Valid reports whether t is a known key type.
func (t KeyType) Valid() bool {
	return t == KeyTypeShop || t == KeyTypeAdmin
}

// StorefrontKey is a service-level credential gating the shop or admin API.
// The secret itself is only returned once on issuance; the store keeps its hash.
type StorefrontKey struct {
	ID              string     `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	KeyType         KeyType    `json:"key_type" db:"key_type"`
	KeyHash         string     `json:"-" db:"key_hash"` // Never expose hash
	KeyPrefix       string     `json:"key_prefix" db:"key_prefix"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	RateLimit       *int       `json:"rate_limit" db:"rate_limit"` // nil = unlimited
	AllowedIPs      []string   `json:"allowed_ips,omitempty" db:"-"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	DeprecationDate *time.Time `json:"deprecation_date,omitempty" db:"deprecation_date"`
	RotatedFromID   *string    `json:"rotated_from_id,omitempty" db:"rotated_from_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt       *time.Time `json:"-" db:"deleted_at"`
}

// IsExpired reports whether the key is past its expiry at now.
func (k *StorefrontKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// IsDeprecated reports whether the key has been rotated out and is in its
// grace period at now.
func (k *StorefrontKey) IsDeprecated(now time.Time) bool {
	return k.DeprecationDate != nil && !now.Before(*k.DeprecationDate)
}

// AllowsIP reports whether ip passes the key's allow-list. An empty list
// allows every address; otherwise the match is an exact string comparison.
func (k *StorefrontKey) AllowsIP(ip string) bool {
	if len(k.AllowedIPs) == 0 {
		return true
	}
	for _, allowed := range k.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

// ValidationResult is the outcome of validating a storefront key.
type ValidationResult struct {
	Valid      bool           `json:"valid"`
	Storefront *StorefrontKey `json:"storefront"`
	Deprecated bool           `json:"deprecated,omitempty"`
}

// CreateStorefrontKeyRequest is the request body for issuing a storefront key.
type CreateStorefrontKeyRequest struct {
	Name       string     `json:"name"`
	KeyType    KeyType    `json:"key_type,omitempty"`
	RateLimit  *int       `json:"rate_limit,omitempty"`
	AllowedIPs []string   `json:"allowed_ips,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// RotateStorefrontKeyRequest is the request body for rotating a key.
type RotateStorefrontKeyRequest struct {
	// GracePeriod is how long the predecessor keeps working, e.g. "72h".
	GracePeriod string `json:"grace_period,omitempty"`
}

// CreateStorefrontKeyResponse is returned when issuing or rotating a key.
// The key is only shown once.
type CreateStorefrontKeyResponse struct {
	StorefrontKey
	Key string `json:"key"` // Only returned on creation
}
