package payment

import "fmt"

// Customer is the contact info forwarded to a gateway at session initiation.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// GatewayError normalizes every provider failure: network errors, non-2xx
// responses and malformed payloads all surface through this one type so the
// order service never has to know which provider misbehaved.
type GatewayError struct {
	Provider   string
	Message    string
	StatusCode int
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s gateway error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s gateway error: %s", e.Provider, e.Message)
}

// Khalti lookup statuses as reported by the gateway.
const (
	StatusCompleted    = "Completed"
	StatusPending      = "Pending"
	StatusExpired      = "Expired"
	StatusUserCanceled = "User canceled"
	StatusRefunded     = "Refunded"
)
