package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
	"unicode"
)

// hashPII normalizes and SHA-256 hashes one identifier. Empty input stays empty.
func hashPII(v string, normalize func(string) string) string {
	v = normalize(v)
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func normalizeText(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func normalizePhone(v string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, v)
}

type userData struct {
	Email      []string `json:"em,omitempty"`
	Phone      []string `json:"ph,omitempty"`
	FirstName  []string `json:"fn,omitempty"`
	LastName   []string `json:"ln,omitempty"`
	ExternalID []string `json:"external_id,omitempty"`
	ClientIP   string   `json:"client_ip_address,omitempty"`
	UserAgent  string   `json:"client_user_agent,omitempty"`
	Fbp        string   `json:"fbp,omitempty"`
	Fbc        string   `json:"fbc,omitempty"`
}

type customData struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency,omitempty"`
	OrderID  string  `json:"order_id,omitempty"`
	Content  string  `json:"content_ids,omitempty"`
}

type serverEvent struct {
	EventName      string     `json:"event_name"`
	EventTime      int64      `json:"event_time"`
	EventID        string     `json:"event_id"`
	ActionSource   string     `json:"action_source"`
	EventSourceURL string     `json:"event_source_url,omitempty"`
	UserData       userData   `json:"user_data"`
	CustomData     customData `json:"custom_data"`
}

type destinationEnvelope struct {
	Data          []json.RawMessage `json:"data"`
	TestEventCode string            `json:"test_event_code,omitempty"`
}

func oneOf(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

// buildServerEvent produces the stored, PII-hashed event. Clear-text identifiers never leave this function.
func buildServerEvent(req ConversionRequest, now time.Time) serverEvent {
	eventTime := req.EventTime
	if eventTime == 0 {
		eventTime = now.Unix()
	}
	return serverEvent{
		EventName:      req.EventName,
		EventTime:      eventTime,
		EventID:        req.EventID,
		ActionSource:   "website",
		EventSourceURL: req.SourceURL,
		UserData: userData{
			Email:      oneOf(hashPII(req.Customer.Email, normalizeText)),
			Phone:      oneOf(hashPII(req.Customer.Phone, normalizePhone)),
			FirstName:  oneOf(hashPII(req.Customer.FirstName, normalizeText)),
			LastName:   oneOf(hashPII(req.Customer.LastName, normalizeText)),
			ExternalID: oneOf(hashPII(req.Customer.ExternalID, normalizeText)),
			ClientIP:   req.Customer.ClientIP,
			UserAgent:  req.Customer.UserAgent,
			Fbp:        req.Customer.Fbp,
			Fbc:        req.Customer.Fbc,
		},
		CustomData: customData{
			Value:    float64(req.Value) / 100,
			Currency: strings.ToUpper(req.Currency),
			OrderID:  req.OrderID,
			Content:  req.ProductID,
		},
	}
}

func envelopeFor(event []byte, testEventCode string) ([]byte, error) {
	return json.Marshal(destinationEnvelope{Data: []json.RawMessage{event}, TestEventCode: testEventCode})
}
