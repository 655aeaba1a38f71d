// Package payment talks to a YooKassa-style payment gateway.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"julianmorley.ca/con-plar/megamart/pkg/global"
)

var ErrGateway = errors.New("payment gateway error")

// GatewayError is a failed create-payment call. StatusCode is zero for
// transport failures.
type GatewayError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("payment gateway: %v", e.Err)
	}
	return fmt.Sprintf("payment gateway: status %d: %s", e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

type CreateRequest struct {
	OrderID        int64
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

type Payment struct {
	ID              string
	Status          string
	ConfirmationURL string
}

// Gateway creates payments. Repeating a call with the same idempotency key
// must return the same payment.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreateRequest) (Payment, error)
}

type Client struct {
	http      *http.Client
	baseURL   string
	shopID    string
	secretKey string
	returnURL string
	currency  string
}

var _ Gateway = (*Client)(nil)

func NewClient(cfg global.PaymentConfig) *Client {
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.APIURL, "/"),
		shopID:    cfg.ShopID,
		secretKey: cfg.SecretKey,
		returnURL: cfg.ReturnURL,
		currency:  cfg.Currency,
	}
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type createBody struct {
	Amount       amount            `json:"amount"`
	Confirmation confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata"`
}

type paymentBody struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	Confirmation confirmation `json:"confirmation"`
}

func (c *Client) CreatePayment(ctx context.Context, req CreateRequest) (Payment, error) {
	orderID := strconv.FormatInt(req.OrderID, 10)
	body, err := json.Marshal(createBody{
		Amount:       amount{Value: req.Amount.StringFixed(2), Currency: c.currency},
		Confirmation: confirmation{Type: "redirect", ReturnURL: strings.ReplaceAll(c.returnURL, "{order_id}", orderID)},
		Capture:      true,
		Description:  req.Description,
		Metadata:     map[string]string{"order_id": orderID},
	})
	if err != nil {
		return Payment{}, fmt.Errorf("encode payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return Payment{}, &GatewayError{Err: err}
	}
	httpReq.SetBasicAuth(c.shopID, c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", req.IdempotencyKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Payment{}, &GatewayError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Payment{}, &GatewayError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Payment{}, &GatewayError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out paymentBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return Payment{}, &GatewayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode payment: %w", err)}
	}
	if out.ID == "" {
		return Payment{}, &GatewayError{StatusCode: resp.StatusCode, Err: errors.New("payment id missing from response")}
	}
	return Payment{ID: out.ID, Status: out.Status, ConfirmationURL: out.Confirmation.ConfirmationURL}, nil
}
