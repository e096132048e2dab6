package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var khaltiLog = zerolog.New(os.Stdout).With().Timestamp().Str("gateway", "khalti").Logger()

// KhaltiConfig holds the credentials and endpoints for the Khalti KPG-2 API.
type KhaltiConfig struct {
	BaseURL     string // e.g. https://dev.khalti.com/api/v2
	SecretKey   string
	FrontendURL string
	Timeout     time.Duration
}

// KhaltiClient talks to the Khalti e-payment API. All amounts cross the wire
// in paisa (minor units); callers pass rupees and the client converts.
// The remote service is not trusted for liveness, so every call runs under
// the configured timeout.
type KhaltiClient struct {
	cfg  KhaltiConfig
	http *http.Client
}

func NewKhaltiClient(cfg KhaltiConfig) *KhaltiClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &KhaltiClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// KhaltiItem is one order line forwarded as product_details.
type KhaltiItem struct {
	Identity  string
	Name      string
	UnitPrice float64 // rupees
	Quantity  int
}

type KhaltiInitiateRequest struct {
	Amount    float64 // rupees
	OrderID   string
	OrderName string
	Customer  Customer
	Items     []KhaltiItem
}

type KhaltiInitiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
	ExpiresIn  int    `json:"expires_in"`
}

type KhaltiLookupResponse struct {
	Pidx          string  `json:"pidx"`
	Status        string  `json:"status"`
	TransactionID string  `json:"transaction_id"`
	TotalAmount   float64 `json:"total_amount"`
	Fee           float64 `json:"fee"`
	Refunded      bool    `json:"refunded"`
}

type khaltiProductDetail struct {
	Identity   string `json:"identity"`
	Name       string `json:"name"`
	TotalPrice int    `json:"total_price"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int    `json:"unit_price"`
}

type khaltiInitiatePayload struct {
	ReturnURL         string                `json:"return_url"`
	WebsiteURL        string                `json:"website_url"`
	Amount            int                   `json:"amount"`
	PurchaseOrderID   string                `json:"purchase_order_id"`
	PurchaseOrderName string                `json:"purchase_order_name"`
	CustomerInfo      Customer              `json:"customer_info"`
	ProductDetails    []khaltiProductDetail `json:"product_details"`
}

// Initiate opens a payment session and returns the hosted payment URL plus
// the pidx correlation token the caller must store for later verification.
func (c *KhaltiClient) Initiate(ctx context.Context, req KhaltiInitiateRequest) (KhaltiInitiateResponse, error) {
	payload := khaltiInitiatePayload{
		ReturnURL:         c.cfg.FrontendURL + "/payment/result",
		WebsiteURL:        c.cfg.FrontendURL,
		Amount:            paisa(req.Amount),
		PurchaseOrderID:   req.OrderID,
		PurchaseOrderName: req.OrderName,
		CustomerInfo:      req.Customer,
	}
	for _, it := range req.Items {
		payload.ProductDetails = append(payload.ProductDetails, khaltiProductDetail{
			Identity:   it.Identity,
			Name:       it.Name,
			TotalPrice: paisa(it.UnitPrice * float64(it.Quantity)),
			Quantity:   it.Quantity,
			UnitPrice:  paisa(it.UnitPrice),
		})
	}

	var out KhaltiInitiateResponse
	if err := c.post(ctx, "/epayment/initiate/", payload, &out); err != nil {
		return KhaltiInitiateResponse{}, err
	}
	if out.Pidx == "" || out.PaymentURL == "" {
		return KhaltiInitiateResponse{}, &GatewayError{Provider: "khalti", Message: "initiate response missing pidx"}
	}
	khaltiLog.Info().Str("order_id", req.OrderID).Str("pidx", out.Pidx).Msg("payment session initiated")
	return out, nil
}

// Lookup fetches the authoritative payment status for a pidx.
func (c *KhaltiClient) Lookup(ctx context.Context, pidx string) (KhaltiLookupResponse, error) {
	var out KhaltiLookupResponse
	if err := c.post(ctx, "/epayment/lookup/", map[string]string{"pidx": pidx}, &out); err != nil {
		return KhaltiLookupResponse{}, err
	}
	if out.Status == "" {
		return KhaltiLookupResponse{}, &GatewayError{Provider: "khalti", Message: "lookup response missing status"}
	}
	return out, nil
}

func (c *KhaltiClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &GatewayError{Provider: "khalti", Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &GatewayError{Provider: "khalti", Message: err.Error()}
	}
	req.Header.Set("Authorization", "Key "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		khaltiLog.Error().Err(err).Str("path", path).Msg("gateway call failed")
		return &GatewayError{Provider: "khalti", Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{Provider: "khalti", Message: err.Error(), StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		khaltiLog.Error().Int("status", resp.StatusCode).Str("path", path).Bytes("body", raw).Msg("gateway rejected request")
		return &GatewayError{Provider: "khalti", Message: string(raw), StatusCode: resp.StatusCode}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Provider: "khalti", Message: "malformed response: " + err.Error(), StatusCode: resp.StatusCode}
	}
	return nil
}

// paisa converts rupees to integer paisa.
func paisa(rupees float64) int {
	return int(math.Round(rupees * 100))
}
