package redisstreams

import (
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/bus"
)

// TestEncodeDecodeRoundTrip Stream 条目编解码往返
func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := time.Unix(0, 1700000000000000000)
	msg := &bus.Message{
		ID:        "msg-1",
		Type:      "stock.quantity-changed",
		Timestamp: ts,
		Payload:   map[string]any{"item_id": 42},
		Metadata:  map[string]any{"correlation_id": "req-123"},
	}

	values, err := encodeMessage(msg)
	require.NoError(t, err)

	decoded, err := decodeMessage(redis.XMessage{ID: "1-0", Values: values})
	require.NoError(t, err)

	assert.Equal(t, msg.ID, decoded.GetID())
	assert.Equal(t, msg.Type, decoded.GetType())
	assert.Equal(t, ts.UnixNano(), decoded.GetTimestamp().UnixNano())

	payload := decoded.GetPayload().(map[string]any)
	assert.Equal(t, float64(42), payload["item_id"]) // JSON numbers decode as float64
	assert.Equal(t, "req-123", decoded.GetMetadata()["correlation_id"])
}

// TestDecodeStringTimestamp Redis 回读的字段都是字符串，时间戳按字符串解析
func TestDecodeStringTimestamp(t *testing.T) {
	ns := int64(1700000000000000000)
	decoded, err := decodeMessage(redis.XMessage{ID: "1-0", Values: map[string]interface{}{
		"id":        "msg-1",
		"type":      "t",
		"timestamp": strconv.FormatInt(ns, 10),
		"payload":   `{"n":1}`,
		"metadata":  `{}`,
	}})
	require.NoError(t, err)
	assert.Equal(t, ns, decoded.GetTimestamp().UnixNano())
}

// TestDecodeFallbacks 缺失的消息ID回退到 Stream 条目ID，损坏的负载报错
func TestDecodeFallbacks(t *testing.T) {
	decoded, err := decodeMessage(redis.XMessage{ID: "7-0", Values: map[string]interface{}{
		"type": "t",
	}})
	require.NoError(t, err)
	assert.Equal(t, "7-0", decoded.GetID())
	assert.NotNil(t, decoded.GetMetadata())

	_, err = decodeMessage(redis.XMessage{ID: "8-0", Values: map[string]interface{}{
		"type":    "t",
		"payload": "{not json",
	}})
	assert.Error(t, err)
}

// TestEncodeZeroTimestamp 零值时间戳在编码时兜底为当前时间
func TestEncodeZeroTimestamp(t *testing.T) {
	values, err := encodeMessage(&bus.Message{ID: "m", Type: "t"})
	require.NoError(t, err)

	ns, ok := values["timestamp"].(int64)
	require.True(t, ok)
	assert.Greater(t, ns, int64(0))
}

// TestStreamNameAndDefaults 配置缺省值
func TestStreamNameAndDefaults(t *testing.T) {
	transport, err := NewTransport(Config{Addr: "localhost:6379"})
	require.NoError(t, err)
	defer transport.Close()

	assert.Equal(t, "ledger:stock.quantity-changed", transport.streamName("stock.quantity-changed"))
	assert.Equal(t, "stockledger", transport.cfg.GroupName)
	assert.NotEmpty(t, transport.cfg.ConsumerName)
	assert.Equal(t, int64(10), transport.cfg.ReadCount)
}
