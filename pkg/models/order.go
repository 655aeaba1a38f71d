package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending OrderStatus = "Pending"
	StatusPaid    OrderStatus = "Paid"
	StatusFailed  OrderStatus = "Failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// Owner identifies whoever a cart or order belongs to: a signed-in account or
// an anonymous session.
type Owner struct {
	AccountID int64
	SessionID string
}

func AccountOwner(accountID int64) Owner {
	return Owner{AccountID: accountID}
}

func SessionOwner(sessionID string) Owner {
	return Owner{SessionID: sessionID}
}

func (o Owner) IsAccount() bool {
	return o.AccountID != 0
}

func (o Owner) String() string {
	if o.IsAccount() {
		return "account:" + strconv.FormatInt(o.AccountID, 10)
	}
	return "session:" + o.SessionID
}

func ParseOwner(s string) (Owner, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return Owner{}, fmt.Errorf("malformed owner %q", s)
	}
	switch kind {
	case "account":
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return Owner{}, fmt.Errorf("malformed account owner %q", s)
		}
		return AccountOwner(id), nil
	case "session":
		return SessionOwner(value), nil
	}
	return Owner{}, fmt.Errorf("unknown owner kind %q", kind)
}

// Order is a priced snapshot of a checkout. Only Status and PaymentReference
// change after creation.
type Order struct {
	ID                    int64           `json:"id" db:"id"`
	Owner                 string          `json:"owner" db:"owner"`
	Status                OrderStatus     `json:"status" db:"status"`
	TotalAmount           decimal.Decimal `json:"total_amount" db:"total_amount"`
	DiscountAmount        decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	FinalAmount           decimal.Decimal `json:"final_amount" db:"final_amount"`
	PromoCode             *string         `json:"promo_code,omitempty" db:"promo_code"`
	ShippingAddress       string          `json:"shipping_address" db:"shipping_address"`
	PaymentReference      *string         `json:"payment_reference,omitempty" db:"payment_reference"`
	PaymentIdempotencyKey string          `json:"-" db:"payment_idempotency_key"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
}

// OrderLine is append-only; UnitPrice is the price read under the row lock.
type OrderLine struct {
	OrderID   int64           `json:"order_id" db:"order_id"`
	ProductID int64           `json:"product_id" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (o *Order) HasPaymentReference() bool {
	return o.PaymentReference != nil && *o.PaymentReference != ""
}

func (o *Order) CanInitiatePayment() bool {
	return o.Status == StatusPending
}

// OwnedBy compares against the owner string stored on the order.
func (o *Order) OwnedBy(owner Owner) bool {
	return o.Owner == owner.String()
}

func (o *Order) SetTimestamps() {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
}

type CheckoutRequest struct {
	ShippingAddress string `json:"shipping_address"`
	PromoCode       string `json:"promo_code"`
}

type OrderWithLines struct {
	Order Order       `json:"order"`
	Lines []OrderLine `json:"lines"`
}
