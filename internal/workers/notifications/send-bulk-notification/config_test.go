package sendbulknotification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{"configured timeout wins", 5 * time.Second, 5 * time.Second},
		{"zero falls back to default", 0, LoadConfig().Timeout},
		{"negative falls back to default", -time.Second, LoadConfig().Timeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(tt.timeout)
			assert.Equal(t, tt.want, cfg.Timeout)
			assert.Greater(t, cfg.Timeout, time.Duration(0))
		})
	}
}
