package payment

import (
	"net/url"
	"strconv"
)

// EsewaConfig holds the merchant settings for the legacy eSewa epay endpoint.
type EsewaConfig struct {
	BaseURL      string // e.g. https://rc-epay.esewa.com.np
	MerchantCode string
	FrontendURL  string
}

// EsewaClient builds redirect URLs for the eSewa "main" flow. The protocol is
// a pure browser redirect: initiation needs no network round-trip, and the
// return leg carries no server-verifiable signature. Integrators should treat
// an eSewa success return as weaker evidence than a Khalti lookup.
type EsewaClient struct {
	cfg EsewaConfig
}

func NewEsewaClient(cfg EsewaConfig) *EsewaClient {
	return &EsewaClient{cfg: cfg}
}

// EsewaParams describes one payment session. Amounts are rupees.
type EsewaParams struct {
	Amount         float64
	TaxAmount      float64
	ServiceCharge  float64
	DeliveryCharge float64
	OrderID        string
}

// PaymentURL templates the hosted-payment redirect URL. tAmt is always the
// sum of the other four amounts.
func (c *EsewaClient) PaymentURL(p EsewaParams) string {
	total := p.Amount + p.TaxAmount + p.ServiceCharge + p.DeliveryCharge

	success := c.cfg.FrontendURL + "/payment/result?payment=esewa&status=success&oid=" + p.OrderID
	failure := c.cfg.FrontendURL + "/payment/result?payment=esewa&status=failure&oid=" + p.OrderID

	q := url.Values{}
	q.Set("amt", formatAmount(p.Amount))
	q.Set("pdc", formatAmount(p.DeliveryCharge))
	q.Set("psc", formatAmount(p.ServiceCharge))
	q.Set("txAmt", formatAmount(p.TaxAmount))
	q.Set("tAmt", formatAmount(total))
	q.Set("pid", p.OrderID)
	q.Set("scd", c.cfg.MerchantCode)
	q.Set("su", success)
	q.Set("fu", failure)

	return c.cfg.BaseURL + "/api/epay/main?" + q.Encode()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
