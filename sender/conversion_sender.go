package sender

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"settlement-service/models"
)

const (
	DestinationMeta = "meta"
	DestinationHTTP = "http"
)

// ConversionSender posts one conversion payload to one ad-platform destination.
type ConversionSender struct {
	httpClient *http.Client
}

func NewConversionSender(timeout time.Duration) *ConversionSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ConversionSender{httpClient: &http.Client{Timeout: timeout}}
}

// Send returns the response even when the status is not 2xx; err is only set for transport failures.
func (s *ConversionSender) Send(ctx context.Context, dest models.ConversionDestination, payload []byte) (HTTPResult, error) {
	endpoint, err := destinationURL(dest)
	if err != nil {
		return HTTPResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return HTTPResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if dest.Kind != DestinationMeta && dest.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+dest.AccessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return HTTPResult{}, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	return HTTPResult{StatusCode: resp.StatusCode, Body: readTruncated(resp.Body)}, nil
}

// destinationURL builds the Graph API events URL for meta destinations; other kinds post to Endpoint as-is.
func destinationURL(dest models.ConversionDestination) (string, error) {
	if dest.Kind != DestinationMeta {
		return dest.Endpoint, nil
	}
	if dest.PixelID == "" {
		return "", fmt.Errorf("meta destination %s has no pixel id", dest.ID)
	}
	u, err := url.Parse(strings.TrimRight(dest.Endpoint, "/") + "/" + url.PathEscape(dest.PixelID) + "/events")
	if err != nil {
		return "", fmt.Errorf("parse destination endpoint: %w", err)
	}
	q := u.Query()
	q.Set("access_token", dest.AccessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
