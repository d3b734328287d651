package sender

import (
	"context"
	"time"
)

type SendResult struct {
	MessageID string
	SentAt    time.Time
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (SendResult, error)
}

type PushSender interface {
	SendPush(ctx context.Context, topic string, msg PushMessage) (SendResult, error)
}

// PushMessage is the JSON document published to a seller's push topic.
type PushMessage struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	OrderID   string    `json:"order_id"`
	ProductID string    `json:"product_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// HTTPResult is what an outbound POST returned. Body is truncated for storage.
type HTTPResult struct {
	StatusCode int
	Body       string
}
