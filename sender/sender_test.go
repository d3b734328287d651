package sender_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"settlement-service/models"
	"settlement-service/sender"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSender_SignsPayload(t *testing.T) {
	payload := []byte(`{"event":"order.completed"}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, payload, body)
		assert.Equal(t, "order.completed", r.Header.Get(sender.EventHeader))

		sig := r.Header.Get(sender.SignatureHeader)
		assert.True(t, strings.HasPrefix(sig, "t="))
		unix, err := strconv.ParseInt(strings.TrimPrefix(strings.Split(sig, ",")[0], "t="), 10, 64)
		assert.NoError(t, err)
		assert.Equal(t, sender.Sign("whsec", time.Unix(unix, 0), body), sig)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res, err := sender.NewWebhookSender(time.Second).Post(context.Background(), srv.URL, "whsec", "order.completed", payload)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestWebhookSender_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte("gone"))
	}))
	defer srv.Close()

	res, err := sender.NewWebhookSender(time.Second).Post(context.Background(), srv.URL, "", "order.completed", []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, http.StatusGone, res.StatusCode)
	assert.Equal(t, "gone", res.Body)
}

func TestConversionSender_MetaURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/px-1/events", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		_, _ = w.Write([]byte(`{"events_received":1}`))
	}))
	defer srv.Close()

	res, err := sender.NewConversionSender(time.Second).Send(context.Background(), models.ConversionDestination{
		Kind: sender.DestinationMeta, Endpoint: srv.URL + "/v19.0/", PixelID: "px-1", AccessToken: "tok",
	}, []byte(`{"data":[]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestConversionSender_ReturnsServerErrorsWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res, err := sender.NewConversionSender(time.Second).Send(context.Background(), models.ConversionDestination{
		Kind: sender.DestinationHTTP, Endpoint: srv.URL, AccessToken: "key",
	}, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

type capturePublisher struct {
	topic string
	body  string
}

func (c *capturePublisher) Publish(_ context.Context, topic string, message []byte) error {
	c.topic = topic
	c.body = string(message)
	return nil
}

func TestSNSPushSender_PublishesJSON(t *testing.T) {
	pub := &capturePublisher{}
	_, err := sender.NewSNSPushSender(pub).SendPush(context.Background(), "arn:topic", sender.PushMessage{
		Type: "sale", OrderID: "ord-1", Amount: 4900, Currency: "BRL",
	})
	require.NoError(t, err)
	assert.Equal(t, "arn:topic", pub.topic)
	assert.Contains(t, pub.body, `"order_id":"ord-1"`)
}
