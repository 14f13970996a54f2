package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
)

type Kind string

const (
	KindPayment     Kind = "payment"
	KindUnsupported Kind = "unsupported"
)

var ErrMalformedNotification = errors.New("gateway: malformed notification")

// Notification is a webhook reduced to what processing needs. Only the id is trusted,
// and only as a key to fetch the real record.
type Notification struct {
	Kind             Kind      `json:"kind"`
	Type             string    `json:"type"`
	Action           string    `json:"action"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	ReceivedAt       time.Time `json:"received_at"`
	RawPayload       []byte    `json:"raw_payload,omitempty"`
}

type rawNotification struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// ParseNotification accepts {type, action, data:{id}} with the id as a string or a number.
// When the body is empty the gateway's query form (?type=payment&data.id=...) is used.
func ParseNotification(body []byte, query url.Values, receivedAt time.Time) (Notification, error) {
	n := Notification{ReceivedAt: receivedAt.UTC(), RawPayload: body}

	var raw rawNotification
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return n, ErrMalformedNotification
		}
	}
	n.Type = firstNonEmpty(raw.Type, raw.Topic, query.Get("type"), query.Get("topic"))
	n.Action = raw.Action
	n.GatewayPaymentID = idString(raw.Data.ID)
	if n.GatewayPaymentID == "" {
		n.GatewayPaymentID = firstNonEmpty(query.Get("data.id"), query.Get("id"))
	}

	if n.Type != string(KindPayment) {
		n.Kind = KindUnsupported
		return n, nil
	}
	n.Kind = KindPayment
	if n.GatewayPaymentID == "" {
		return n, ErrMalformedNotification
	}
	return n, nil
}

func idString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
