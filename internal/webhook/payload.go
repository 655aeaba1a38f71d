package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"julianmorley.ca/con-plar/megamart/pkg/models"
)

var (
	ErrMalformed        = errors.New("malformed webhook payload")
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
)

// Event is a parsed gateway notification.
type Event struct {
	Name      string
	Status    models.OrderStatus
	OrderID   int64
	PaymentID string
}

type payload struct {
	Event  string `json:"event"`
	Object struct {
		ID       string `json:"id"`
		Metadata struct {
			OrderID json.RawMessage `json:"order_id"`
		} `json:"metadata"`
	} `json:"object"`
}

// Parse reads a gateway notification. Event names may carry the "payment."
// prefix and the order id may be a JSON number or a numeric string.
func Parse(body []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	name := strings.TrimPrefix(strings.TrimSpace(p.Event), "payment.")
	var status models.OrderStatus
	switch name {
	case "succeeded":
		status = models.StatusPaid
	case "canceled", "failed":
		status = models.StatusFailed
	case "":
		return Event{}, fmt.Errorf("%w: event is missing", ErrMalformed)
	default:
		return Event{Name: name}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, p.Event)
	}

	orderID, err := parseOrderID(p.Object.Metadata.OrderID)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Status: status, OrderID: orderID, PaymentID: p.Object.ID}, nil
}

func parseOrderID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: metadata.order_id is missing", ErrMalformed)
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("%w: metadata.order_id: %v", ErrMalformed, err)
		}
	}
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: metadata.order_id %s is not an order id", ErrMalformed, raw)
	}
	return id, nil
}
