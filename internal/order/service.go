package order

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nishanpoudel/kinmel-backend/internal/events"
	"github.com/nishanpoudel/kinmel-backend/internal/payment"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Str("component", "orders").Logger()

// KhaltiGateway is the slice of the Khalti client the service needs.
type KhaltiGateway interface {
	Initiate(ctx context.Context, req payment.KhaltiInitiateRequest) (payment.KhaltiInitiateResponse, error)
	Lookup(ctx context.Context, pidx string) (payment.KhaltiLookupResponse, error)
}

// EsewaGateway builds redirect URLs; eSewa initiation needs no network call.
type EsewaGateway interface {
	PaymentURL(p payment.EsewaParams) string
}

// EventPublisher pushes order events to the broker. Nil disables publishing.
type EventPublisher interface {
	Publish(topic string, key, value []byte)
}

// Coordinator provides the optional redis-backed per-order payment lock and
// status cache. Nil disables both; the store's version check still protects
// against lost updates.
type Coordinator interface {
	Acquire(ctx context.Context, orderID string) (release func(), acquired bool)
	CacheStatus(ctx context.Context, orderID, status string)
}

// Service orchestrates the order/payment state machine. It is the only
// component that mutates order records; gateway clients stay stateless.
type Service struct {
	repo     Repository
	khalti   KhaltiGateway
	esewa    EsewaGateway
	events   EventPublisher
	coord    Coordinator
	producer string
	now      func() time.Time
}

func NewService(repo Repository, khalti KhaltiGateway, esewa EsewaGateway) *Service {
	return &Service{
		repo:     repo,
		khalti:   khalti,
		esewa:    esewa,
		producer: "kinmel-api",
		now:      time.Now,
	}
}

// WithEvents attaches a kafka publisher. producer names this instance in
// event envelopes.
func (s *Service) WithEvents(pub EventPublisher, producer string) *Service {
	s.events = pub
	if producer != "" {
		s.producer = producer
	}
	return s
}

func (s *Service) WithCoordinator(c Coordinator) *Service {
	s.coord = c
	return s
}

// CreateInput is the checkout payload. TotalAmount is trusted from the
// caller as the items subtotal; there is no server-side repricing against
// the catalog.
type CreateInput struct {
	Items           []OrderItem
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	TotalAmount     float64
	Email           string
}

func (s *Service) Create(userID int, in CreateInput) (Order, error) {
	if len(in.Items) == 0 {
		return Order{}, ErrEmptyItems
	}
	for _, it := range in.Items {
		if it.Quantity < 1 || it.Price < 0 {
			return Order{}, ErrInvalidItem
		}
	}
	if !ValidPaymentMethod(in.PaymentMethod) {
		return Order{}, ErrInvalidPaymentMethod
	}

	now := s.now().UTC()
	ord := Order{
		ID:              uuid.NewString(),
		UserID:          userID,
		Items:           in.Items,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		ItemsPrice:      in.TotalAmount,
		TaxPrice:        0,
		ShippingPrice:   0,
		Status:          StatusPending,
		CreatedAt:       now.Format(time.RFC3339),
	}
	if in.PaymentMethod == MethodCOD {
		ord.PaymentResult = &PaymentResult{
			ID:            "COD",
			Status:        "pending",
			UpdateTime:    now.Format(time.RFC3339),
			EmailAddress:  in.Email,
			PaymentMethod: string(MethodCOD),
		}
	}
	s.normalize(&ord)

	created, err := s.repo.Create(ord)
	if err != nil {
		return Order{}, err
	}
	s.cacheStatus(created)
	s.publish(EventOrderCreated, TopicOrderCreated, created.ID, OrderCreatedPayload{
		OrderID:       created.ID,
		UserID:        created.UserID,
		PaymentMethod: created.PaymentMethod,
		TotalPrice:    created.TotalPrice,
		ItemCount:     len(created.Items),
	})
	log.Info().Str("order_id", created.ID).Int("user_id", userID).
		Str("method", string(created.PaymentMethod)).Float64("total", created.TotalPrice).
		Msg("order created")
	return created, nil
}

// GetForUser returns an order the requester is allowed to see: the owner, or
// any admin.
func (s *Service) GetForUser(orderID string, userID int, isAdmin bool) (Order, error) {
	ord, err := s.repo.GetByID(orderID)
	if err != nil {
		return Order{}, err
	}
	if !isAdmin && ord.UserID != userID {
		return Order{}, ErrUnauthorized
	}
	return ord, nil
}

func (s *Service) ListByUser(userID int) ([]Order, error) {
	return s.repo.ListByUser(userID)
}

func (s *Service) ListAll() ([]Order, error) {
	return s.repo.ListAll()
}

// KhaltiInitiation is the result of opening a Khalti payment session.
type KhaltiInitiation struct {
	Order      Order  `json:"order"`
	PaymentURL string `json:"payment_url"`
	Pidx       string `json:"pidx"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	ExpiresIn  int    `json:"expires_in,omitempty"`
}

// InitiateKhalti opens a gateway session for the order and stores the issued
// pidx. A failed gateway call leaves the order untouched. Initiating again
// before completion overwrites pidx with the newest session; the previous
// session is simply orphaned.
func (s *Service) InitiateKhalti(ctx context.Context, orderID string, userID int, customer payment.Customer) (KhaltiInitiation, error) {
	ord, err := s.repo.GetByID(orderID)
	if err != nil {
		return KhaltiInitiation{}, err
	}
	if ord.UserID != userID {
		return KhaltiInitiation{}, ErrUnauthorized
	}

	req := payment.KhaltiInitiateRequest{
		Amount:    ord.TotalPrice,
		OrderID:   ord.ID,
		OrderName: orderName(ord.ID),
		Customer:  customer,
	}
	for _, it := range ord.Items {
		req.Items = append(req.Items, payment.KhaltiItem{
			Identity:  strconv.Itoa(it.ProductID),
			Name:      it.Name,
			UnitPrice: it.Price,
			Quantity:  it.Quantity,
		})
	}

	resp, err := s.khalti.Initiate(ctx, req)
	if err != nil {
		return KhaltiInitiation{}, err
	}

	updated, err := s.repo.SetPidx(ord.ID, resp.Pidx, ord.Version, s.timestamp())
	if err != nil {
		return KhaltiInitiation{}, err
	}
	return KhaltiInitiation{
		Order:      updated,
		PaymentURL: resp.PaymentURL,
		Pidx:       resp.Pidx,
		ExpiresAt:  resp.ExpiresAt,
		ExpiresIn:  resp.ExpiresIn,
	}, nil
}

// VerifyKhalti actively verifies a payment session by pidx. An already-paid
// order short-circuits to success without restamping paidAt or the payment
// result.
func (s *Service) VerifyKhalti(ctx context.Context, pidx string, userID int) (Order, error) {
	ord, err := s.repo.GetByPidx(pidx)
	if err != nil {
		return Order{}, err
	}
	return s.verifyKhaltiOrder(ctx, ord, pidx, userID)
}

// VerifyKhaltiByOrder is the polling-flow variant: the client knows the order
// id and supplies the pidx it was handed at initiation.
func (s *Service) VerifyKhaltiByOrder(ctx context.Context, orderID, pidx string, userID int) (Order, error) {
	ord, err := s.repo.GetByID(orderID)
	if err != nil {
		return Order{}, err
	}
	return s.verifyKhaltiOrder(ctx, ord, pidx, userID)
}

func (s *Service) verifyKhaltiOrder(ctx context.Context, ord Order, pidx string, userID int) (Order, error) {
	if ord.UserID != userID {
		return Order{}, ErrUnauthorized
	}
	if ord.IsPaid {
		return ord, nil
	}

	lk, err := s.khalti.Lookup(ctx, pidx)
	if err != nil {
		// gateway unavailable: no mutation
		return Order{}, err
	}

	release := s.lock(ctx, ord.ID)
	defer release()

	now := s.now().UTC()
	if lk.Status == payment.StatusCompleted {
		t := now
		ord.IsPaid = true
		ord.PaidAt = &t
		ord.PaymentResult = &PaymentResult{
			ID:            lk.TransactionID,
			Status:        "completed",
			UpdateTime:    now.Format(time.RFC3339),
			TransactionID: lk.TransactionID,
			PaymentMethod: string(MethodKhalti),
			Pidx:          lk.Pidx,
			TotalAmount:   lk.TotalAmount,
		}
		s.normalize(&ord)
		updated, err := s.repo.Update(ord)
		if err != nil {
			return Order{}, err
		}
		s.cacheStatus(updated)
		s.publish(EventOrderPaid, TopicOrderPaid, updated.ID, OrderPaidPayload{
			OrderID:       updated.ID,
			PaymentMethod: updated.PaymentMethod,
			TransactionID: lk.TransactionID,
			TotalPrice:    updated.TotalPrice,
		})
		log.Info().Str("order_id", updated.ID).Str("transaction_id", lk.TransactionID).Msg("payment verified")
		return updated, nil
	}

	// non-success: keep the snapshot for audit but leave the order unpaid
	ord.PaymentResult = &PaymentResult{
		ID:            lk.TransactionID,
		Status:        strings.ToLower(lk.Status),
		UpdateTime:    now.Format(time.RFC3339),
		TransactionID: lk.TransactionID,
		PaymentMethod: string(MethodKhalti),
		Pidx:          lk.Pidx,
		TotalAmount:   lk.TotalAmount,
	}
	s.normalize(&ord)
	updated, err := s.repo.Update(ord)
	if err != nil {
		return Order{}, err
	}
	s.publish(EventPaymentFailed, TopicPaymentFailed, updated.ID, PaymentFailedPayload{
		OrderID:       updated.ID,
		PaymentMethod: updated.PaymentMethod,
		Status:        lk.Status,
	})
	log.Warn().Str("order_id", updated.ID).Str("status", lk.Status).Msg("payment not completed")
	return updated, &IncompleteError{Status: lk.Status}
}

// EsewaInitiation is the result of building an eSewa redirect.
type EsewaInitiation struct {
	Order      Order  `json:"order"`
	PaymentURL string `json:"payment_url"`
}

// InitiateEsewa builds the redirect URL. Nothing is persisted: the protocol
// carries the order id itself and has no correlation token.
func (s *Service) InitiateEsewa(orderID string, userID int) (EsewaInitiation, error) {
	ord, err := s.repo.GetByID(orderID)
	if err != nil {
		return EsewaInitiation{}, err
	}
	if ord.UserID != userID {
		return EsewaInitiation{}, ErrUnauthorized
	}

	url := s.esewa.PaymentURL(payment.EsewaParams{
		Amount:         ord.ItemsPrice,
		TaxAmount:      ord.TaxPrice,
		ServiceCharge:  0,
		DeliveryCharge: ord.ShippingPrice,
		OrderID:        ord.ID,
	})
	return EsewaInitiation{Order: ord, PaymentURL: url}, nil
}

// VerifyEsewa marks an order paid on the success return leg. The legacy epay
// flow has no server-to-server confirmation, so this is trust-on-return by
// design; already-paid orders are left untouched.
func (s *Service) VerifyEsewa(ctx context.Context, orderID string, userID int, email string) (Order, error) {
	ord, err := s.repo.GetByID(orderID)
	if err != nil {
		return Order{}, err
	}
	if ord.UserID != userID {
		return Order{}, ErrUnauthorized
	}
	if ord.IsPaid {
		return ord, nil
	}

	release := s.lock(ctx, ord.ID)
	defer release()

	now := s.now().UTC()
	t := now
	ord.IsPaid = true
	ord.PaidAt = &t
	ord.PaymentResult = &PaymentResult{
		ID:            ord.ID,
		Status:        "completed",
		UpdateTime:    now.Format(time.RFC3339),
		EmailAddress:  email,
		PaymentMethod: string(MethodEsewa),
	}
	s.normalize(&ord)
	updated, err := s.repo.Update(ord)
	if err != nil {
		return Order{}, err
	}
	s.cacheStatus(updated)
	s.publish(EventOrderPaid, TopicOrderPaid, updated.ID, OrderPaidPayload{
		OrderID:       updated.ID,
		PaymentMethod: updated.PaymentMethod,
		TotalPrice:    updated.TotalPrice,
	})
	log.Info().Str("order_id", updated.ID).Msg("esewa payment accepted on return")
	return updated, nil
}

// Callback is the query payload of the inbound gateway redirect.
type Callback struct {
	Pidx              string
	Status            string
	TransactionID     string
	Tidx              string
	Amount            string
	Mobile            string
	PurchaseOrderID   string
	PurchaseOrderName string
	TotalAmount       string
}

// HandleCallback applies a passive (unauthenticated) verification. The order
// is resolved via its stored purchase_order_id, never from caller identity.
// A snapshot is persisted whatever the reported status; the order is marked
// paid only for "Completed". Already-paid orders are not remutated.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (Order, error) {
	ord, err := s.repo.GetByID(cb.PurchaseOrderID)
	if err != nil {
		return Order{}, err
	}
	if ord.IsPaid {
		return ord, nil
	}

	release := s.lock(ctx, ord.ID)
	defer release()

	now := s.now().UTC()
	txID := cb.TransactionID
	if txID == "" {
		txID = "CALLBACK"
	}
	total, _ := strconv.ParseFloat(cb.TotalAmount, 64)
	ord.PaymentResult = &PaymentResult{
		ID:            txID,
		Status:        strings.ToLower(cb.Status),
		UpdateTime:    now.Format(time.RFC3339),
		EmailAddress:  ord.ShippingAddress.Email,
		TransactionID: cb.TransactionID,
		PaymentMethod: string(MethodKhalti),
		Pidx:          cb.Pidx,
		TotalAmount:   total,
		Mobile:        cb.Mobile,
	}
	if cb.Status == payment.StatusCompleted {
		t := now
		ord.IsPaid = true
		ord.PaidAt = &t
	}
	s.normalize(&ord)

	updated, err := s.repo.Update(ord)
	if err != nil {
		return Order{}, err
	}
	s.cacheStatus(updated)
	if updated.IsPaid {
		s.publish(EventOrderPaid, TopicOrderPaid, updated.ID, OrderPaidPayload{
			OrderID:       updated.ID,
			PaymentMethod: updated.PaymentMethod,
			TransactionID: cb.TransactionID,
			TotalPrice:    updated.TotalPrice,
		})
	} else {
		s.publish(EventPaymentFailed, TopicPaymentFailed, updated.ID, PaymentFailedPayload{
			OrderID:       updated.ID,
			PaymentMethod: updated.PaymentMethod,
			Status:        cb.Status,
		})
	}
	log.Info().Str("order_id", updated.ID).Str("status", cb.Status).Msg("payment callback applied")
	return updated, nil
}

// UpdateStatus applies an admin status transition. The graph is permissive:
// any status may follow any other. Delivered and cancelled carry the
// delivery-flag side effects.
func (s *Service) UpdateStatus(orderID string, newStatus Status) (Order, error) {
	if !ValidStatus(newStatus) {
		return Order{}, ErrInvalidStatus
	}
	ord, err := s.repo.GetByID(orderID)
	if err != nil {
		return Order{}, err
	}

	ord.Status = newStatus
	switch newStatus {
	case StatusDelivered:
		t := s.now().UTC()
		ord.IsDelivered = true
		ord.DeliveredAt = &t
	case StatusCancelled:
		ord.IsDelivered = false
		ord.DeliveredAt = nil
	}
	s.normalize(&ord)

	updated, err := s.repo.Update(ord)
	if err != nil {
		return Order{}, err
	}
	s.cacheStatus(updated)
	s.publish(EventStatusUpdated, TopicStatusUpdated, updated.ID, StatusUpdatedPayload{
		OrderID: updated.ID,
		Status:  updated.Status,
	})
	if newStatus == StatusDelivered {
		s.publish(EventOrderDelivered, TopicOrderDelivered, updated.ID, OrderDeliveredPayload{OrderID: updated.ID})
	}
	log.Info().Str("order_id", updated.ID).Str("status", string(newStatus)).Msg("order status updated")
	return updated, nil
}

// MarkDelivered sets the delivery flags independent of status.
func (s *Service) MarkDelivered(orderID string) (Order, error) {
	ord, err := s.repo.GetByID(orderID)
	if err != nil {
		return Order{}, err
	}

	t := s.now().UTC()
	ord.IsDelivered = true
	ord.DeliveredAt = &t
	s.normalize(&ord)

	updated, err := s.repo.Update(ord)
	if err != nil {
		return Order{}, err
	}
	s.publish(EventOrderDelivered, TopicOrderDelivered, updated.ID, OrderDeliveredPayload{OrderID: updated.ID})
	return updated, nil
}

// normalize recomputes the derived total and stamps updatedAt. Every persist
// goes through here so totalPrice can never drift from its parts.
func (s *Service) normalize(o *Order) {
	o.TotalPrice = o.ItemsPrice + o.TaxPrice + o.ShippingPrice
	o.UpdatedAt = s.timestamp()
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *Service) lock(ctx context.Context, orderID string) func() {
	if s.coord == nil {
		return func() {}
	}
	release, ok := s.coord.Acquire(ctx, orderID)
	if !ok {
		// proceed without the lock; the version check still protects the write
		log.Warn().Str("order_id", orderID).Msg("payment lock not acquired")
		return func() {}
	}
	return release
}

func (s *Service) cacheStatus(ord Order) {
	if s.coord == nil {
		return
	}
	s.coord.CacheStatus(context.Background(), ord.ID, string(ord.Status))
}

func (s *Service) publish(eventType, topic, orderID string, payload any) {
	if s.events == nil {
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now().UTC(),
		Producer:      s.producer,
		CorrelationID: orderID,
		Payload:       events.MustMarshal(payload),
	}
	s.events.Publish(topic, PartitionKey(orderID), events.MustMarshal(env))
}

// orderName derives the short human label sent to the gateway.
func orderName(id string) string {
	short := id
	if len(short) > 6 {
		short = short[len(short)-6:]
	}
	return "Order #" + short
}
