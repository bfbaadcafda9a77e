package preferences

import (
	"context"
	"fmt"
	"testing"

	"notification-hub/internal/common/logger"
	"notification-hub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// ==========================
// Mocks
// ==========================

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, userID string) (models.Preferences, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.Preferences), args.Error(1)
}

func (m *MockStore) Set(ctx context.Context, userID string, update models.Preferences) (models.Preferences, error) {
	args := m.Called(ctx, userID, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.Preferences), args.Error(1)
}

// ==========================
// Gate
// ==========================

func TestGate_Allows(t *testing.T) {
	tests := []struct {
		name      string
		typ       models.Type
		stored    models.Preferences
		lookupErr error
		want      bool
	}{
		{name: "no record", typ: models.TypeInfo, stored: models.Preferences{}, want: true},
		{name: "key absent", typ: models.TypeInfo, stored: models.Preferences{"message": false}, want: true},
		{name: "key enabled", typ: models.TypeInfo, stored: models.Preferences{"info": true}, want: true},
		{name: "key disabled", typ: models.TypeInfo, stored: models.Preferences{"info": false}, want: false},
		{name: "coarse key", typ: models.TypeJobFilled, stored: models.Preferences{"job_updates": false}, want: false},
		{name: "per-status key", typ: models.TypeApplicationHired, stored: models.Preferences{"application_hired": false, "application_rejected": true}, want: false},
		{name: "lookup error fails open", typ: models.TypeInfo, lookupErr: fmt.Errorf("db down"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStore)
			if tt.lookupErr != nil {
				store.On("Get", mock.Anything, "u1").Return(nil, tt.lookupErr)
			} else {
				store.On("Get", mock.Anything, "u1").Return(tt.stored, nil)
			}

			gate := NewGate(store, DefaultKeyTable(), logger.NewTestLogger(t))
			assert.Equal(t, tt.want, gate.Allows(context.Background(), "u1", tt.typ))
			store.AssertExpectations(t)
		})
	}
}

func TestGate_AlwaysAllowedSkipsLookup(t *testing.T) {
	store := new(MockStore)
	gate := NewGate(store, DefaultKeyTable(), logger.NewTestLogger(t))

	assert.True(t, gate.Allows(context.Background(), "u1", models.TypeSystem))
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestGate_Decide(t *testing.T) {
	store := new(MockStore)
	store.On("Get", mock.Anything, "u1").Return(models.Preferences{"job_updates": false}, nil)
	gate := NewGate(store, nil, logger.NewNoOpLogger())

	allowed, key := gate.Decide(context.Background(), "u1", models.TypeJobFilled)
	assert.False(t, allowed)
	assert.Equal(t, "job_updates", key)
}
