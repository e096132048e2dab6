package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(handler http.HandlerFunc) (*KhaltiClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewKhaltiClient(KhaltiConfig{
		BaseURL:     srv.URL,
		SecretKey:   "test-secret",
		FrontendURL: "http://localhost:5173",
	})
	return c, srv
}

func TestInitiate_SendsPaisaAndAuthHeader(t *testing.T) {
	var got map[string]any
	var auth string
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/epayment/initiate/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(KhaltiInitiateResponse{
			Pidx:       "px-1",
			PaymentURL: "https://pay.khalti.com/?pidx=px-1",
			ExpiresIn:  1800,
		})
	})
	defer srv.Close()

	resp, err := c.Initiate(context.Background(), KhaltiInitiateRequest{
		Amount:    1250.50,
		OrderID:   "ord-1",
		OrderName: "Order #abc123",
		Customer:  Customer{Name: "Sita", Email: "sita@example.com", Phone: "9841000000"},
		Items: []KhaltiItem{
			{Identity: "1", Name: "Leash", UnitPrice: 500, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if resp.Pidx != "px-1" {
		t.Fatalf("unexpected pidx %q", resp.Pidx)
	}

	if auth != "Key test-secret" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if got["amount"] != float64(125050) {
		t.Fatalf("amount not converted to paisa: %v", got["amount"])
	}
	if got["purchase_order_id"] != "ord-1" {
		t.Fatalf("unexpected purchase_order_id %v", got["purchase_order_id"])
	}
	if got["return_url"] != "http://localhost:5173/payment/result" {
		t.Fatalf("unexpected return_url %v", got["return_url"])
	}
	details, _ := got["product_details"].([]any)
	if len(details) != 1 {
		t.Fatalf("expected 1 product detail, got %v", got["product_details"])
	}
	line, _ := details[0].(map[string]any)
	if line["unit_price"] != float64(50000) || line["total_price"] != float64(100000) {
		t.Fatalf("line amounts not in paisa: %v", line)
	}
}

func TestInitiate_MissingPidx(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})
	defer srv.Close()

	_, err := c.Initiate(context.Background(), KhaltiInitiateRequest{Amount: 10, OrderID: "ord-1"})
	var ge *GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
}

func TestInitiate_Non2xx(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid token."}`))
	})
	defer srv.Close()

	_, err := c.Initiate(context.Background(), KhaltiInitiateRequest{Amount: 10, OrderID: "ord-1"})
	var ge *GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if ge.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", ge.StatusCode)
	}
}

func TestLookup(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/epayment/lookup/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["pidx"] != "px-1" {
			t.Errorf("unexpected pidx %q", body["pidx"])
		}
		_ = json.NewEncoder(w).Encode(KhaltiLookupResponse{
			Pidx:          "px-1",
			Status:        StatusCompleted,
			TransactionID: "txn-9",
			TotalAmount:   125050,
		})
	})
	defer srv.Close()

	resp, err := c.Lookup(context.Background(), "px-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if resp.Status != StatusCompleted || resp.TransactionID != "txn-9" {
		t.Fatalf("unexpected lookup %+v", resp)
	}
}

func TestLookup_MissingStatus(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"pidx": "px-1"})
	})
	defer srv.Close()

	var ge *GatewayError
	if _, err := c.Lookup(context.Background(), "px-1"); !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
}

func TestPaisaRounding(t *testing.T) {
	cases := []struct {
		rupees float64
		want   int
	}{
		{0, 0},
		{1, 100},
		{99.99, 9999},
		{1250.50, 125050},
		{0.1 + 0.2, 30},
	}
	for _, tc := range cases {
		if got := paisa(tc.rupees); got != tc.want {
			t.Errorf("paisa(%v) = %d, want %d", tc.rupees, got, tc.want)
		}
	}
}
