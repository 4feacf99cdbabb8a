// Package validation provides validation functions for storefront keys, guest
// cart tokens and cart requests.
package validation

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/google/uuid"
)

// Key secret prefixes by key type.
const (
	ShopKeyPrefix  = "pk_storefront_"
	AdminKeyPrefix = "pk_admin_"

	// keySecretLen is the hex length of the random part of a key.
	keySecretLen = 64
)

// Limits for request fields.
const (
	MaxKeyNameLength   = 100
	MaxProductIDLength = 128
	MaxQuantity        = 999
	MaxRateLimit       = 100000
	DefaultGracePeriod = 72 * time.Hour
	MaxGracePeriod     = 30 * 24 * time.Hour
)

// isAlpha returns true if the byte is an ASCII letter.
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// isNum returns true if the byte is an ASCII digit.
func isNum(b byte) bool {
	return b >= '0' && b <= '9'
}

func isHex(b byte) bool {
	return isNum(b) || (b >= 'a' && b <= 'f')
}

// IsGuestTokenFormat reports whether token is a canonical 36-character UUID.
// Guest tokens are always issued in this form, so anything else can skip the
// guest token lookup.
func IsGuestTokenFormat(token string) bool {
	if len(token) != 36 {
		return false
	}
	_, err := uuid.Parse(token)
	return err == nil
}

// KeyPrefixFor returns the secret prefix used for keys of type t.
func KeyPrefixFor(t domain.KeyType) string {
	if t == domain.KeyTypeAdmin {
		return AdminKeyPrefix
	}
	return ShopKeyPrefix
}

// IsStorefrontKeyFormat reports whether key looks like a key of type t:
// the type's prefix followed by 64 lowercase hex characters.
func IsStorefrontKeyFormat(key string, t domain.KeyType) bool {
	secret, ok := strings.CutPrefix(key, KeyPrefixFor(t))
	if !ok || len(secret) != keySecretLen {
		return false
	}
	for _, b := range []byte(secret) {
		if !isHex(b) {
			return false
		}
	}
	return true
}

// ValidateKeyName validates a storefront key name.
// Names must start with a letter and contain only letters, numbers, hyphens,
// underscores, dots or spaces.
func ValidateKeyName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(name) > MaxKeyNameLength {
		return fmt.Errorf("name must be at most %d characters", MaxKeyNameLength)
	}
	if !isAlpha(name[0]) {
		return fmt.Errorf("name must start with a letter")
	}
	for _, b := range []byte(name) {
		if !isAlpha(b) && !isNum(b) && !strings.ContainsRune("-_. ", rune(b)) {
			return fmt.Errorf("name can only contain letters, numbers, hyphens, underscores, dots or spaces")
		}
	}
	return nil
}

// ValidateIPAddress validates a single IPv4 or IPv6 address.
// Allow-list entries are matched exactly, so CIDR ranges are rejected.
func ValidateIPAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address must not be empty")
	}
	if strings.Contains(addr, "/") {
		return fmt.Errorf("CIDR ranges are not supported, list individual addresses")
	}
	if ip := net.ParseIP(addr); ip == nil {
		return fmt.Errorf("must be a valid IP address")
	}
	return nil
}

// ValidateEmail validates an email address.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email must not be empty")
	}
	atIndex := strings.Index(email, "@")
	if atIndex < 1 {
		return fmt.Errorf("email must contain '@' after at least one character")
	}
	if atIndex == len(email)-1 {
		return fmt.Errorf("email must have domain after '@'")
	}
	return nil
}

// ValidateProductID validates a product identifier.
func ValidateProductID(id string) error {
	if id == "" {
		return fmt.Errorf("product_id must not be empty")
	}
	if len(id) > MaxProductIDLength {
		return fmt.Errorf("product_id must be at most %d characters", MaxProductIDLength)
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return fmt.Errorf("product_id must not contain whitespace")
	}
	return nil
}

// ValidateQuantity validates a cart line quantity.
func ValidateQuantity(q int) error {
	if q < 1 || q > MaxQuantity {
		return fmt.Errorf("quantity must be between 1 and %d", MaxQuantity)
	}
	return nil
}

// ParseGracePeriod parses a rotation grace period such as "72h". An empty
// string yields DefaultGracePeriod.
func ParseGracePeriod(s string) (time.Duration, error) {
	if s == "" {
		return DefaultGracePeriod, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("grace_period must be a duration like 72h")
	}
	if d < 0 || d > MaxGracePeriod {
		return 0, fmt.Errorf("grace_period must be between 0 and %s", MaxGracePeriod)
	}
	return d, nil
}

// ValidateCreateStorefrontKey validates a key issuance request.
func ValidateCreateStorefrontKey(req *domain.CreateStorefrontKeyRequest, now time.Time) ValidationErrors {
	var errs ValidationErrors
	if err := ValidateKeyName(req.Name); err != nil {
		errs.Add("name", req.Name, err.Error())
	}
	if req.KeyType != "" && !req.KeyType.Valid() {
		errs.Add("key_type", string(req.KeyType), "must be shop or admin")
	}
	if req.RateLimit != nil && (*req.RateLimit < 0 || *req.RateLimit > MaxRateLimit) {
		errs.Add("rate_limit", fmt.Sprint(*req.RateLimit), fmt.Sprintf("must be between 0 and %d", MaxRateLimit))
	}
	for _, ip := range req.AllowedIPs {
		if err := ValidateIPAddress(ip); err != nil {
			errs.Add("allowed_ips", ip, err.Error())
		}
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		errs.Add("expires_at", req.ExpiresAt.Format(time.RFC3339), "must be in the future")
	}
	return errs
}

// ValidateAddCartItem validates an add-to-cart request.
func ValidateAddCartItem(req *domain.AddCartItemRequest) ValidationErrors {
	var errs ValidationErrors
	if err := ValidateProductID(req.ProductID); err != nil {
		errs.Add("product_id", req.ProductID, err.Error())
	}
	if err := ValidateQuantity(req.Quantity); err != nil {
		errs.Add("quantity", fmt.Sprint(req.Quantity), err.Error())
	}
	return errs
}
