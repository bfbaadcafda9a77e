package preferences

import (
	"context"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/models"
)

// Store reads and writes a user's preference map.
type Store interface {
	Get(ctx context.Context, userID string) (models.Preferences, error)
	Set(ctx context.Context, userID string, update models.Preferences) (models.Preferences, error)
}

// Gate decides whether a notification type may be delivered to a user.
// It fails open: a missing record, a missing key and a lookup error all allow.
type Gate struct {
	store  Store
	keys   KeyTable
	logger logger.Logger
}

func NewGate(store Store, keys KeyTable, log logger.Logger) *Gate {
	if keys == nil {
		keys = DefaultKeyTable()
	}
	return &Gate{
		store:  store,
		keys:   keys,
		logger: log.WithFields(map[string]interface{}{"component": "preference-gate"}),
	}
}

// Allows never returns an error; lookup failures are logged and treated as allowed.
func (g *Gate) Allows(ctx context.Context, userID string, t models.Type) bool {
	key, ok := g.keys.Key(t)
	if !ok {
		return true
	}

	prefs, err := g.store.Get(ctx, userID)
	if err != nil {
		lookupErr := errors.NewPreferenceLookupError(userID, err)
		g.logger.Warn("preference lookup failed, allowing notification", map[string]interface{}{
			"userId":    userID,
			"type":      string(t),
			"errorCode": string(lookupErr.Code),
			"error":     err,
		})
		return true
	}
	return prefs.Enabled(key)
}

// Decide is Allows plus the preference key consulted, for skip reasons.
func (g *Gate) Decide(ctx context.Context, userID string, t models.Type) (allowed bool, key string) {
	key, _ = g.keys.Key(t)
	return g.Allows(ctx, userID, t), key
}
