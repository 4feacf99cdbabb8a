package domain

import "time"

// GuestCartToken lets an unauthenticated client resume a specific cart.
// There is exactly one token per cart and it is removed with the cart.
type GuestCartToken struct {
	ID        string    `json:"id" db:"id"`
	CartID    string    `json:"cart_id" db:"cart_id"`
	Token     string    `json:"token" db:"token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
