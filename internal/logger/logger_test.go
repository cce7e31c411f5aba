package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &Logger{service: "test", zl: zap.New(core)}, logs
}

func TestLogger_Fields(t *testing.T) {
	log, logs := observed()

	log.Info("table_opened", "Table opened", "req-1", map[string]interface{}{"table_number": 5})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Table opened", entry.Message)
	ctx := entry.ContextMap()
	assert.Equal(t, "table_opened", ctx["action"])
	assert.Equal(t, "req-1", ctx["request_id"])
	assert.EqualValues(t, 5, ctx["table_number"])
}

func TestLogger_ErrorWithNilError(t *testing.T) {
	log, logs := observed()

	log.Error("guard_rejected", "rejected", "", nil, nil)
	log.Error("settle_failed", "failed", "r", errors.New("boom"), nil)

	require.Equal(t, 2, logs.Len())
	_, hasErr := logs.All()[0].ContextMap()["error"]
	assert.False(t, hasErr)
	assert.Equal(t, "boom", logs.All()[1].ContextMap()["error"])
	_, hasReq := logs.All()[0].ContextMap()["request_id"]
	assert.False(t, hasReq)
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.NotEqual(t, GenerateRequestID(), GenerateRequestID())
}
