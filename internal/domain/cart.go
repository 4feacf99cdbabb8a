package domain

import "time"

// Cart is a shopping cart owned either by a guest token or by a customer.
type Cart struct {
	ID         string     `json:"id" db:"id"`
	CustomerID *string    `json:"customer_id,omitempty" db:"customer_id"`
	IsGuest    bool       `json:"is_guest" db:"is_guest"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	Items      []CartItem `json:"items" db:"-"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// ItemCount returns the total quantity across all lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// CartItem is a single line in a cart.
type CartItem struct {
	ID        string    `json:"id" db:"id"`
	CartID    string    `json:"cart_id" db:"cart_id"`
	ProductID string    `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AddCartItemRequest is the request body for adding a product to the cart.
type AddCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// UpdateCartItemRequest is the request body for changing a line's quantity.
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// CartResponse is returned by the cart endpoints. GuestToken is set while the
// cart is owned by a guest so the client can resume it.
type CartResponse struct {
	Cart       *Cart  `json:"cart"`
	GuestToken string `json:"guest_token,omitempty"`
	State      string `json:"state"`
	Merged     bool   `json:"merged,omitempty"`
}
