package order

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nishanpoudel/kinmel-backend/internal/payment"
)

// fakeRepo is an in-memory Repository with the same version semantics as the
// postgres implementation.
type fakeRepo struct {
	mu     sync.Mutex
	orders map[string]Order
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: map[string]Order{}}
}

func (r *fakeRepo) Create(ord Order) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ord.Version = 0
	r.orders[ord.ID] = ord
	return ord, nil
}

func (r *fakeRepo) GetByID(id string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ord, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return ord, nil
}

func (r *fakeRepo) GetByPidx(pidx string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ord := range r.orders {
		if ord.Pidx == pidx && pidx != "" {
			return ord, nil
		}
	}
	return Order{}, ErrNotFound
}

func (r *fakeRepo) ListByUser(userID int) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, ord := range r.orders {
		if ord.UserID == userID {
			out = append(out, ord)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListAll() ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, ord := range r.orders {
		out = append(out, ord)
	}
	return out, nil
}

func (r *fakeRepo) Update(ord Order) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[ord.ID]
	if !ok {
		return Order{}, ErrNotFound
	}
	if cur.Version != ord.Version {
		return Order{}, ErrConflict
	}
	ord.Version++
	ord.CreatedAt = cur.CreatedAt
	r.orders[ord.ID] = ord
	return ord, nil
}

func (r *fakeRepo) SetPidx(id, pidx string, version int, updatedAt string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if cur.Version != version {
		return Order{}, ErrConflict
	}
	cur.Pidx = pidx
	cur.Version++
	cur.UpdatedAt = updatedAt
	r.orders[id] = cur
	return cur, nil
}

type stubKhalti struct {
	initResp    payment.KhaltiInitiateResponse
	initErr     error
	lookupResp  payment.KhaltiLookupResponse
	lookupErr   error
	lookupCalls int
}

func (s *stubKhalti) Initiate(_ context.Context, _ payment.KhaltiInitiateRequest) (payment.KhaltiInitiateResponse, error) {
	return s.initResp, s.initErr
}

func (s *stubKhalti) Lookup(_ context.Context, _ string) (payment.KhaltiLookupResponse, error) {
	s.lookupCalls++
	return s.lookupResp, s.lookupErr
}

type stubEsewa struct{ url string }

func (s *stubEsewa) PaymentURL(_ payment.EsewaParams) string { return s.url }

type capturePublisher struct {
	topics []string
	keys   []string
}

func (p *capturePublisher) Publish(topic string, key, _ []byte) {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, string(key))
}

func newTestService(repo Repository, k *stubKhalti) *Service {
	svc := NewService(repo, k, &stubEsewa{url: "https://pay.example/redirect"})
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func validInput(method PaymentMethod) CreateInput {
	return CreateInput{
		Items: []OrderItem{
			{ProductID: 1, Name: "Leash", Price: 500, Quantity: 2},
			{ProductID: 2, Name: "Bowl", Price: 250, Quantity: 1},
		},
		ShippingAddress: ShippingAddress{Street: "Thamel", City: "Kathmandu", Country: "Nepal", Email: "sita@example.com"},
		PaymentMethod:   method,
		TotalAmount:     1250,
	}
}

func TestCreate_DerivesTotalPrice(t *testing.T) {
	svc := newTestService(newFakeRepo(), &stubKhalti{})

	ord, err := svc.Create(7, validInput(MethodKhalti))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ord.TotalPrice != ord.ItemsPrice+ord.TaxPrice+ord.ShippingPrice {
		t.Fatalf("totalPrice %v drifted from its parts", ord.TotalPrice)
	}
	if ord.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", ord.Status)
	}
	if ord.IsPaid || ord.PaidAt != nil {
		t.Fatal("new order must not be paid")
	}
	if ord.ID == "" {
		t.Fatal("expected generated order id")
	}
}

func TestCreate_EmptyItems(t *testing.T) {
	svc := newTestService(newFakeRepo(), &stubKhalti{})

	in := validInput(MethodKhalti)
	in.Items = nil
	if _, err := svc.Create(7, in); !errors.Is(err, ErrEmptyItems) {
		t.Fatalf("expected ErrEmptyItems, got %v", err)
	}
}

func TestCreate_InvalidItem(t *testing.T) {
	svc := newTestService(newFakeRepo(), &stubKhalti{})

	in := validInput(MethodKhalti)
	in.Items[0].Quantity = 0
	if _, err := svc.Create(7, in); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}
}

func TestCreate_InvalidPaymentMethod(t *testing.T) {
	svc := newTestService(newFakeRepo(), &stubKhalti{})

	in := validInput("paypal")
	if _, err := svc.Create(7, in); !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Fatalf("expected ErrInvalidPaymentMethod, got %v", err)
	}
}

func TestCreate_CODSyntheticResult(t *testing.T) {
	svc := newTestService(newFakeRepo(), &stubKhalti{})

	ord, err := svc.Create(7, validInput(MethodCOD))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ord.PaymentResult == nil {
		t.Fatal("COD order must carry a synthetic payment result")
	}
	if ord.PaymentResult.ID != "COD" || ord.PaymentResult.Status != "pending" {
		t.Fatalf("unexpected COD result %+v", ord.PaymentResult)
	}
	if ord.IsPaid {
		t.Fatal("COD order is not paid at creation")
	}
}

func TestCreate_PublishesEvent(t *testing.T) {
	pub := &capturePublisher{}
	svc := newTestService(newFakeRepo(), &stubKhalti{}).WithEvents(pub, "test")

	ord, err := svc.Create(7, validInput(MethodKhalti))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(pub.topics) != 1 || pub.topics[0] != TopicOrderCreated {
		t.Fatalf("expected %s event, got %v", TopicOrderCreated, pub.topics)
	}
	if pub.keys[0] != ord.ID {
		t.Fatalf("partition key %q should be the order id", pub.keys[0])
	}
}

func TestInitiateKhalti_StoresPidx(t *testing.T) {
	repo := newFakeRepo()
	k := &stubKhalti{initResp: payment.KhaltiInitiateResponse{
		Pidx:       "px-123",
		PaymentURL: "https://khalti.example/pay/px-123",
		ExpiresIn:  1800,
	}}
	svc := newTestService(repo, k)

	ord, _ := svc.Create(7, validInput(MethodKhalti))
	res, err := svc.InitiateKhalti(context.Background(), ord.ID, 7, payment.Customer{Name: "Sita"})
	if err != nil {
		t.Fatalf("InitiateKhalti: %v", err)
	}
	if res.Pidx != "px-123" || res.PaymentURL == "" {
		t.Fatalf("unexpected initiation %+v", res)
	}
	stored, _ := repo.GetByID(ord.ID)
	if stored.Pidx != "px-123" {
		t.Fatalf("pidx not persisted, got %q", stored.Pidx)
	}
}

func TestInitiateKhalti_Unauthorized(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &stubKhalti{})

	ord, _ := svc.Create(7, validInput(MethodKhalti))
	if _, err := svc.InitiateKhalti(context.Background(), ord.ID, 99, payment.Customer{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestInitiateKhalti_GatewayFailureLeavesOrderUntouched(t *testing.T) {
	repo := newFakeRepo()
	gwErr := &payment.GatewayError{Provider: "khalti", Message: "timeout"}
	svc := newTestService(repo, &stubKhalti{initErr: gwErr})

	ord, _ := svc.Create(7, validInput(MethodKhalti))
	before, _ := repo.GetByID(ord.ID)

	_, err := svc.InitiateKhalti(context.Background(), ord.ID, 7, payment.Customer{})
	var ge *payment.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	after, _ := repo.GetByID(ord.ID)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("order mutated on gateway failure:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestVerifyKhalti_Completed(t *testing.T) {
	repo := newFakeRepo()
	k := &stubKhalti{
		initResp:   payment.KhaltiInitiateResponse{Pidx: "px-123", PaymentURL: "u"},
		lookupResp: payment.KhaltiLookupResponse{Pidx: "px-123", Status: payment.StatusCompleted, TransactionID: "txn-9", TotalAmount: 125000},
	}
	svc := newTestService(repo, k)

	ord, _ := svc.Create(7, validInput(MethodKhalti))
	_, _ = svc.InitiateKhalti(context.Background(), ord.ID, 7, payment.Customer{})

	verified, err := svc.VerifyKhalti(context.Background(), "px-123", 7)
	if err != nil {
		t.Fatalf("VerifyKhalti: %v", err)
	}
	if !verified.IsPaid || verified.PaidAt == nil {
		t.Fatal("completed lookup must mark the order paid")
	}
	if verified.PaymentResult == nil || verified.PaymentResult.Status != "completed" {
		t.Fatalf("unexpected payment result %+v", verified.PaymentResult)
	}
	if verified.PaymentResult.TransactionID != "txn-9" {
		t.Fatalf("transaction id %q not recorded", verified.PaymentResult.TransactionID)
	}
}

func TestVerifyKhalti_AlreadyPaidShortCircuits(t *testing.T) {
	repo := newFakeRepo()
	k := &stubKhalti{
		initResp:   payment.KhaltiInitiateResponse{Pidx: "px-123"},
		lookupResp: payment.KhaltiLookupResponse{Pidx: "px-123", Status: payment.StatusCompleted, TransactionID: "txn-9"},
	}
	svc := newTestService(repo, k)

	ord, _ := svc.Create(7, validInput(MethodKhalti))
	_, _ = svc.InitiateKhalti(context.Background(), ord.ID, 7, payment.Customer{})

	first, err := svc.VerifyKhalti(context.Background(), "px-123", 7)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	second, err := svc.VerifyKhalti(context.Background(), "px-123", 7)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if k.lookupCalls != 1 {
		t.Fatalf("paid order must not hit the gateway again, got %d lookups", k.lookupCalls)
	}
	if !second.PaidAt.Equal(*first.PaidAt) {
		t.Fatal("paidAt restamped on re-verification")
	}
}

func TestVerifyKhalti_PendingKeepsOrderUnpaid(t *testing.T) {
	repo := newFakeRepo()
	k := &stubKhalti{
		initResp:   payment.KhaltiInitiateResponse{Pidx: "px-123"},
		lookupResp: payment.KhaltiLookupResponse{Pidx: "px-123", Status: payment.StatusPending},
	}
	svc := newTestService(repo, k)

	ord, _ := svc.Create(7, validInput(MethodKhalti))
	_, _ = svc.InitiateKhalti(context.Background(), ord.ID, 7, payment.Customer{})

	updated, err := svc.VerifyKhalti(context.Background(), "px-123", 7)
	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if incomplete.Status != payment.StatusPending {
		t.Fatalf("unexpected status %q", incomplete.Status)
	}
	if updated.IsPaid {
		t.Fatal("pending lookup must not mark the order paid")
	}
	if updated.PaymentResult == nil || updated.PaymentResult.Status != "pending" {
		t.Fatalf("audit snapshot missing, got %+v", updated.PaymentResult)
	}
}

func TestVerifyKhalti_GatewayFailureLeavesOrderUntouched(t *testing.T) {
	repo := newFakeRepo()
	k := &stubKhalti{
		initResp:  payment.KhaltiInitiateResponse{Pidx: "px-123"},
		lookupErr: &payment.GatewayError{Provider: "khalti", Message: "boom"},
	}
	svc := newTestService(repo, k)

	ord, _ := svc.Create(7, validInput(MethodKhalti))
	_, _ = svc.InitiateKhalti(context.Background(), ord.ID, 7, payment.Customer{})
	before, _ := repo.GetByID(ord.ID)

	if _, err := svc.VerifyKhalti(context.Background(), "px-123", 7); err == nil {
		t.Fatal("expected gateway error")
	}
	after, _ := repo.GetByID(ord.ID)
	if !reflect.DeepEqual(before, after) {
		t.Fatal("order mutated while the gateway was unavailable")
	}
}

func TestVerifyEsewa_TrustOnReturn(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &stubKhalti{})

	ord, _ := svc.Create(7, validInput(MethodEsewa))
	verified, err := svc.VerifyEsewa(context.Background(), ord.ID, 7, "sita@example.com")
	if err != nil {
		t.Fatalf("VerifyEsewa: %v", err)
	}
	if !verified.IsPaid {
		t.Fatal("esewa success return must mark the order paid")
	}
	if verified.PaymentResult.PaymentMethod != string(MethodEsewa) {
		t.Fatalf("unexpected method %q", verified.PaymentResult.PaymentMethod)
	}

	again, err := svc.VerifyEsewa(context.Background(), ord.ID, 7, "sita@example.com")
	if err != nil {
		t.Fatalf("second VerifyEsewa: %v", err)
	}
	if !again.PaidAt.Equal(*verified.PaidAt) {
		t.Fatal("paidAt restamped on repeat return")
	}
}

func TestInitiateEsewa_NoPersistence(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &stubKhalti{})

	ord, _ := svc.Create(7, validInput(MethodEsewa))
	before, _ := repo.GetByID(ord.ID)

	res, err := svc.InitiateEsewa(ord.ID, 7)
	if err != nil {
		t.Fatalf("InitiateEsewa: %v", err)
	}
	if res.PaymentURL == "" {
		t.Fatal("expected redirect URL")
	}
	after, _ := repo.GetByID(ord.ID)
	if !reflect.DeepEqual(before, after) {
		t.Fatal("esewa initiation must not persist anything")
	}
}

func TestHandleCallback_Completed(t *testing.T) {
	repo := newFakeRepo()
	pub := &capturePublisher{}
	svc := newTestService(repo, &stubKhalti{}).WithEvents(pub, "test")

	ord, _ := svc.Create(7, validInput(MethodKhalti))
	updated, err := svc.HandleCallback(context.Background(), Callback{
		Pidx:            "px-123",
		Status:          payment.StatusCompleted,
		TransactionID:   "txn-cb",
		PurchaseOrderID: ord.ID,
		TotalAmount:     "1250",
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if !updated.IsPaid {
		t.Fatal("completed callback must mark the order paid")
	}
	if updated.PaymentResult.TotalAmount != 1250 {
		t.Fatalf("total %v not parsed from callback", updated.PaymentResult.TotalAmount)
	}
	last := pub.topics[len(pub.topics)-1]
	if last != TopicOrderPaid {
		t.Fatalf("expected %s event, got %s", TopicOrderPaid, last)
	}
}

func TestHandleCallback_UserCanceled(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &stubKhalti{})

	ord, _ := svc.Create(7, validInput(MethodKhalti))
	updated, err := svc.HandleCallback(context.Background(), Callback{
		Pidx:            "px-123",
		Status:          payment.StatusUserCanceled,
		PurchaseOrderID: ord.ID,
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if updated.IsPaid {
		t.Fatal("canceled callback must not mark the order paid")
	}
	if updated.PaymentResult == nil || updated.PaymentResult.ID != "CALLBACK" {
		t.Fatalf("expected snapshot with fallback id, got %+v", updated.PaymentResult)
	}
}

func TestHandleCallback_UnknownOrder(t *testing.T) {
	svc := newTestService(newFakeRepo(), &stubKhalti{})

	_, err := svc.HandleCallback(context.Background(), Callback{PurchaseOrderID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatus_Delivered(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &stubKhalti{})

	ord, _ := svc.Create(7, validInput(MethodCOD))
	updated, err := svc.UpdateStatus(ord.ID, StatusDelivered)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if !updated.IsDelivered || updated.DeliveredAt == nil {
		t.Fatal("delivered status must set the delivery flags")
	}
}

func TestUpdateStatus_CancelledResetsDelivery(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &stubKhalti{})

	ord, _ := svc.Create(7, validInput(MethodCOD))
	_, _ = svc.UpdateStatus(ord.ID, StatusDelivered)

	updated, err := svc.UpdateStatus(ord.ID, StatusCancelled)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.IsDelivered || updated.DeliveredAt != nil {
		t.Fatal("cancellation must reset the delivery flags")
	}
}

func TestUpdateStatus_Invalid(t *testing.T) {
	svc := newTestService(newFakeRepo(), &stubKhalti{})

	if _, err := svc.UpdateStatus("any", Status("teleported")); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestGetForUser_Ownership(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &stubKhalti{})

	ord, _ := svc.Create(7, validInput(MethodCOD))

	if _, err := svc.GetForUser(ord.ID, 7, false); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := svc.GetForUser(ord.ID, 99, false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.GetForUser(ord.ID, 99, true); err != nil {
		t.Fatalf("admin read: %v", err)
	}
}
