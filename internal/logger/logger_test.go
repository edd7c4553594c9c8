package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUninitializedIsNop(t *testing.T) {
	assert.NotNil(t, New("x"))
	assert.NotNil(t, FromContext(context.Background()))
	assert.Error(t, UpdateLevel("debug"))
	Info("dropped")
}

func TestInitFileAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pp.log")
	require.NoError(t, Init(WithFile(path), WithFormat("json"), WithLevel("warn")))
	t.Cleanup(func() { _ = Shutdown() })

	Info("hidden")
	Warn("shown", zap.String("k", "v"))
	require.NoError(t, UpdateLevel("debug"))
	Debug("now shown")
	require.NoError(t, Shutdown())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"msg":"shown"`)
	assert.Contains(t, string(data), `"msg":"now shown"`)
}

func TestInitRejectsBadOptions(t *testing.T) {
	assert.Error(t, Init(WithFormat("xml")))
	assert.Error(t, Init(WithLevel("loud")))
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))

	l := zap.NewNop()
	assert.Same(t, l, FromContext(WithLogger(ctx, l)))
}

func TestSamplingAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pp.log")
	require.NoError(t, Init(WithFile(path), WithFormat("json"), WithSampling(1, 0)))
	t.Cleanup(func() { _ = Shutdown() })

	for i := 0; i < 5; i++ {
		Info("selected", zap.Duration("cooldown", 30*time.Second))
	}
	require.NoError(t, Shutdown())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), `"msg":"selected"`))
	assert.Contains(t, string(data), `"cooldown":"30s"`)
}
