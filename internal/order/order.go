package order

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound             = errors.New("order not found")
	ErrUnauthorized         = errors.New("not authorized to access this order")
	ErrEmptyItems           = errors.New("order must contain at least one item")
	ErrInvalidItem          = errors.New("order item has invalid quantity or price")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrConflict is returned when a version-checked update loses a race
	// against a concurrent writer.
	ErrConflict = errors.New("order was modified concurrently")
)

// IncompleteError reports a gateway-confirmed but not completed payment.
// The raw gateway status is surfaced to the caller.
type IncompleteError struct {
	Status string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("payment status: %s", e.Status)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ValidStatus reports whether s is a member of the status enum. Transitions
// between members are deliberately unrestricted.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodKhalti PaymentMethod = "khalti"
	MethodEsewa  PaymentMethod = "esewa"
	MethodCOD    PaymentMethod = "cod"
)

func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case MethodKhalti, MethodEsewa, MethodCOD:
		return true
	}
	return false
}

// OrderItem is a snapshot of a catalog product at purchase time.
type OrderItem struct {
	ProductID int     `json:"product"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image"`
}

type ShippingAddress struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
	Email   string `json:"email,omitempty"`
}

// PaymentResult records the outcome of the most recent payment attempt.
// It is overwritten on every verification, not appended to.
type PaymentResult struct {
	ID            string  `json:"id,omitempty"`
	Status        string  `json:"status,omitempty"`
	UpdateTime    string  `json:"update_time,omitempty"`
	EmailAddress  string  `json:"email_address,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
	PaymentMethod string  `json:"payment_method,omitempty"`
	Pidx          string  `json:"pidx,omitempty"`
	TotalAmount   float64 `json:"total_amount,omitempty"`
	Mobile        string  `json:"mobile,omitempty"`
}

// Order is the persistent record of a purchase and its payment sub-state.
// TotalPrice is derived: it is recomputed as itemsPrice+taxPrice+shippingPrice
// before every persist. Version backs the optimistic-lock check in the
// repository; handlers never see it.
type Order struct {
	ID              string          `json:"orderId"`
	UserID          int             `json:"userId"`
	Items           []OrderItem     `json:"orderItems"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	PaymentResult   *PaymentResult  `json:"paymentResult,omitempty"`
	Pidx            string          `json:"pidx,omitempty"`
	ItemsPrice      float64         `json:"itemsPrice"`
	TaxPrice        float64         `json:"taxPrice"`
	ShippingPrice   float64         `json:"shippingPrice"`
	TotalPrice      float64         `json:"totalPrice"`
	Status          Status          `json:"status"`
	IsPaid          bool            `json:"isPaid"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	IsDelivered     bool            `json:"isDelivered"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	Version         int             `json:"-"`
	CreatedAt       string          `json:"createdAt"`
	UpdatedAt       string          `json:"updatedAt"`
}
