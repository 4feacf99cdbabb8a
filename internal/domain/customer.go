package domain

// Customer is the identity behind a valid customer bearer token.
// Customers are owned by the external authentication provider.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// CustomerLoginRequest is the request body for the customer login endpoint.
type CustomerLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CustomerLoginResponse carries the bearer token issued at login.
type CustomerLoginResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int64         `json:"expires_in,omitempty"`
	Customer    *Customer     `json:"customer"`
	Cart        *CartResponse `json:"cart,omitempty"`
}
