// Package dispatch creates notification records for one or many recipients,
// consulting the preference gate before every write.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/common/metrics"
	"notification-hub/internal/common/observability"
	"notification-hub/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Gate is the preference decision consulted before every write.
type Gate interface {
	Decide(ctx context.Context, userID string, t models.Type) (allowed bool, key string)
}

// Inbox persists a notification and publishes its insert event.
type Inbox interface {
	Create(ctx context.Context, n *models.Notification) (string, error)
}

type Config struct {
	BulkConcurrency int
	Timeout         time.Duration // per recipient; zero means no extra deadline
}

type Dispatcher struct {
	config Config
	inbox  Inbox
	gate   Gate
	obs    *observability.Observability
	logger logger.Logger
}

func New(config Config, inbox Inbox, gate Gate, obs *observability.Observability, log logger.Logger) *Dispatcher {
	if config.BulkConcurrency <= 0 {
		config.BulkConcurrency = 8
	}
	if obs == nil {
		obs = observability.NewNoop()
	}
	return &Dispatcher{
		config: config,
		inbox:  inbox,
		gate:   gate,
		obs:    obs,
		logger: log.WithFields(map[string]interface{}{"component": "dispatcher"}),
	}
}

// CreateOne validates req before any I/O, asks the gate and persists the
// notification. A disallowed type yields a skipped result, not an error.
func (d *Dispatcher) CreateOne(ctx context.Context, req Request) (Result, error) {
	t, err := validateRequest(req)
	if err != nil {
		return Result{}, err
	}
	return d.createOne(ctx, strings.TrimSpace(req.RecipientID), t, req)
}

func (d *Dispatcher) createOne(ctx context.Context, recipientID string, t models.Type, req Request) (result Result, err error) {
	start := time.Now()
	ctx, span := d.obs.StartSpan(ctx, "dispatch.create_one",
		attribute.String("notification.type", string(t)),
		attribute.String("recipient.id", recipientID),
	)
	defer func() {
		status := string(result.Status)
		if err != nil {
			status = string(StatusFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("dispatch.status", status))
		span.End()

		metrics.NotificationsDispatched.WithLabelValues(string(t), status).Inc()
		d.obs.RecordDispatch(ctx, string(t), status)
		d.obs.RecordDispatchDuration(ctx, time.Since(start), status)
	}()

	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	if allowed, key := d.gate.Decide(ctx, recipientID, t); !allowed {
		d.logger.Debug("notification skipped by preference", map[string]interface{}{
			"userId":        recipientID,
			"type":          string(t),
			"preferenceKey": key,
		})
		return Result{Status: StatusSkipped, Reason: fmt.Sprintf("preference %q disabled", key)}, nil
	}

	n := &models.Notification{
		RecipientID: recipientID,
		Title:       req.Title,
		Message:     req.Message,
		Type:        t,
		Metadata:    models.Metadata(req.Metadata),
		Link:        req.Link,
		ExpiresAt:   req.ExpiresAt,
	}
	id, err := d.inbox.Create(ctx, n)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeInternal {
			err = errors.NewStorageError("create notification", err)
		}
		d.logger.Error("failed to create notification", map[string]interface{}{
			"userId": recipientID,
			"type":   string(t),
			"error":  err,
		})
		return Result{}, err
	}

	return Result{Status: StatusCreated, ID: id}, nil
}

// CreateBulk applies CreateOne to every distinct recipient on a bounded worker
// pool. A failing recipient never aborts the others; only a malformed template
// is returned as an error.
func (d *Dispatcher) CreateBulk(ctx context.Context, req BulkRequest) (BulkResult, error) {
	t, err := validateTemplate(req)
	if err != nil {
		return BulkResult{}, err
	}

	ctx, span := d.obs.StartSpan(ctx, "dispatch.create_bulk",
		attribute.String("notification.type", string(t)),
		attribute.Int("recipients.requested", len(req.RecipientIDs)),
	)
	defer span.End()

	result := BulkResult{Results: make(map[string]RecipientResult, len(req.RecipientIDs))}
	var mu sync.Mutex
	record := func(recipientID string, r RecipientResult) {
		mu.Lock()
		result.Results[recipientID] = r
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(d.config.BulkConcurrency)

	seen := make(map[string]struct{}, len(req.RecipientIDs))
	for _, raw := range req.RecipientIDs {
		recipientID := strings.TrimSpace(raw)
		if _, dup := seen[recipientID]; dup {
			continue
		}
		seen[recipientID] = struct{}{}

		if recipientID == "" {
			record(recipientID, RecipientResult{Status: StatusFailed, Reason: "recipient id is blank"})
			continue
		}

		g.Go(func() error {
			res, err := d.createOne(ctx, recipientID, t, req.forRecipient(recipientID))
			if err != nil {
				stdErr := errors.Normalize(err)
				record(recipientID, RecipientResult{
					Status:    StatusFailed,
					Reason:    stdErr.Error(),
					Retryable: stdErr.Retryable,
				})
				return nil
			}
			record(recipientID, RecipientResult{Status: res.Status, ID: res.ID, Reason: res.Reason})
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("recipients.created", result.Count(StatusCreated)),
		attribute.Int("recipients.skipped", result.Count(StatusSkipped)),
		attribute.Int("recipients.failed", result.Count(StatusFailed)),
	)

	d.logger.Info("bulk dispatch finished", map[string]interface{}{
		"type":       string(t),
		"recipients": len(result.Results),
		"created":    result.Count(StatusCreated),
		"skipped":    result.Count(StatusSkipped),
		"failed":     result.Count(StatusFailed),
	})
	return result, nil
}

func validateRequest(req Request) (models.Type, error) {
	if strings.TrimSpace(req.RecipientID) == "" {
		return "", errors.NewValidationError("recipientId", "recipientId is required")
	}
	return validateContent(req.Title, req.Type)
}

func validateTemplate(req BulkRequest) (models.Type, error) {
	if len(req.RecipientIDs) == 0 {
		return "", errors.NewValidationError("recipientIds", "at least one recipient is required")
	}
	return validateContent(req.Title, req.Type)
}

func validateContent(title, rawType string) (models.Type, error) {
	if strings.TrimSpace(title) == "" {
		return "", errors.NewValidationError("title", "title is required")
	}
	t, err := models.ParseType(rawType)
	if err != nil {
		return "", errors.NewValidationError("type", err.Error())
	}
	return t, nil
}
