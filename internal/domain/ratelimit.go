package domain

// RateLimitResult is the decision for a single rate-limited request.
// ResetAt is the number of seconds until the current window ends.
type RateLimitResult struct {
	Allowed   bool `json:"allowed"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	ResetAt   int  `json:"reset_at"`
	Unlimited bool `json:"unlimited"`
	// Degraded is set when the counting store failed and the configured
	// failure policy decided the outcome.
	Degraded bool `json:"-"`
}
