package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	awspkg "settlement-service/pkg/aws"
)

// SNSPushSender publishes push notifications to per-seller SNS topics.
type SNSPushSender struct {
	publisher awspkg.SNSPublisher
}

func NewSNSPushSender(publisher awspkg.SNSPublisher) *SNSPushSender {
	return &SNSPushSender{publisher: publisher}
}

func (s *SNSPushSender) SendPush(ctx context.Context, topic string, msg PushMessage) (SendResult, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal push: %w", err)
	}
	if err := s.publisher.Publish(ctx, topic, b); err != nil {
		return SendResult{}, err
	}
	return SendResult{MessageID: fmt.Sprintf("sns-%d", time.Now().UnixNano()), SentAt: time.Now()}, nil
}
