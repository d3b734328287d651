package sender

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	SignatureHeader = "X-Settlement-Signature"
	EventHeader     = "X-Settlement-Event"
	maxStoredBody   = 2048
)

// WebhookSender makes one signed POST per call. It never retries.
type WebhookSender struct {
	httpClient *http.Client
	now        func() time.Time
}

func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{httpClient: &http.Client{Timeout: timeout}, now: time.Now}
}

// Sign returns the signature header value for payload: t=<unix>,v1=<hex hmac-sha256 of "t.payload">.
func Sign(secret string, ts time.Time, payload []byte) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + unix + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func (s *WebhookSender) Post(ctx context.Context, url, secret, event string, payload []byte) (HTTPResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return HTTPResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event)
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, s.now(), payload))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return HTTPResult{}, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	result := HTTPResult{StatusCode: resp.StatusCode, Body: readTruncated(resp.Body)}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return result, nil
}

func readTruncated(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxStoredBody))
	return string(b)
}
