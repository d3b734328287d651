package logger_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"settlement-service/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_TeesJSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New("production", &buf)
	require.NoError(t, err)

	log.Info("Order settled", zap.String("order_id", "O1"))
	_ = log.Sync()

	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "Order settled", entry["msg"])
	assert.Equal(t, "O1", entry["order_id"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_WithoutWriter(t *testing.T) {
	log, err := logger.New("development", nil)
	require.NoError(t, err)
	assert.NotNil(t, log)
}
