package camunda

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"notification-hub/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableZeebeError(t *testing.T) {
	tests := []struct {
		err  string
		want bool
	}{
		{"rpc error: code = Unavailable desc = connection refused", true},
		{"context deadline exceeded", true},
		{"write: broken pipe", true},
		{"rpc error: code = PermissionDenied", false},
		{"job not found", false},
	}
	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableZeebeError(stderrors.New(tt.err)))
		})
	}
}

func TestRetryDelay(t *testing.T) {
	cfg := &RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, retryDelay(cfg, 0))
	assert.Equal(t, 400*time.Millisecond, retryDelay(cfg, 2))
	assert.Equal(t, time.Second, retryDelay(cfg, 4))
	assert.Equal(t, time.Second, retryDelay(cfg, 62))
}

func testClient(t *testing.T, maxRetries int) *Client {
	return &Client{
		config: &ClientConfig{RetryConfig: &RetryConfig{MaxRetries: maxRetries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}},
		logger: logger.NewTestLogger(t),
	}
}

func TestExecuteWithRetry_RecoversFromTransientErrors(t *testing.T) {
	c := testClient(t, 3)
	calls := 0
	err := c.executeWithRetry(context.Background(), "topology", func(context.Context) error {
		calls++
		if calls < 3 {
			return stderrors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_StopsOnPermanentError(t *testing.T) {
	c := testClient(t, 3)
	calls := 0
	err := c.executeWithRetry(context.Background(), "topology", func(context.Context) error {
		calls++
		return stderrors.New("permission denied")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestExecuteWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	c := testClient(t, 2)
	calls := 0
	err := c.executeWithRetry(context.Background(), "topology", func(context.Context) error {
		calls++
		return stderrors.New("unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_HonoursCancellation(t *testing.T) {
	c := testClient(t, 10)
	c.config.RetryConfig.BaseDelay = time.Hour
	c.config.RetryConfig.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.executeWithRetry(ctx, "topology", func(context.Context) error {
		return stderrors.New("timeout")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
