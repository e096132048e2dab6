package order

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderPaid      = "OrderPaid"
	EventPaymentFailed  = "PaymentFailed"
	EventStatusUpdated  = "OrderStatusUpdated"
	EventOrderDelivered = "OrderDelivered"
)

const (
	TopicOrderCreated   = "order.created"
	TopicOrderPaid      = "order.paid"
	TopicPaymentFailed  = "order.payment.failed"
	TopicStatusUpdated  = "order.status.updated"
	TopicOrderDelivered = "order.delivered"
)

// Envelope wraps every published order event. CorrelationID is the order id,
// which is also the kafka partition key so events for one order stay ordered.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID       string        `json:"order_id"`
	UserID        int           `json:"user_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	TotalPrice    float64       `json:"total_price"`
	ItemCount     int           `json:"item_count"`
}

type OrderPaidPayload struct {
	OrderID       string        `json:"order_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	TransactionID string        `json:"transaction_id,omitempty"`
	TotalPrice    float64       `json:"total_price"`
}

type PaymentFailedPayload struct {
	OrderID       string        `json:"order_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        string        `json:"status"`
}

type StatusUpdatedPayload struct {
	OrderID string `json:"order_id"`
	Status  Status `json:"status"`
}

type OrderDeliveredPayload struct {
	OrderID string `json:"order_id"`
}

func PartitionKey(orderID string) []byte { return []byte(orderID) }
