// internal/workers/notifications/send-notification/handler.go
package sendnotification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/common/metrics"
	"notification-hub/internal/common/validation"
	"notification-hub/internal/dispatch"
	"notification-hub/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "send-notification"
)

// Dispatcher is the part of dispatch.Dispatcher this worker needs.
type Dispatcher interface {
	CreateOne(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

var inputSchema = validation.MustCompile(buildInputSchema())

func buildInputSchema() string {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []string{"recipientId", "title"},
		"properties": map[string]interface{}{
			"recipientId": map[string]interface{}{"type": "string", "minLength": 1},
			"title":       map[string]interface{}{"type": "string", "minLength": 1},
			"message":     map[string]interface{}{"type": "string"},
			"type":        map[string]interface{}{"type": "string", "enum": append([]string{""}, models.TypeNames()...)},
			"metadata":    map[string]interface{}{"type": "object"},
			"link":        map[string]interface{}{"type": "string"},
			"expiresAt":   map[string]interface{}{"type": "string", "format": "date-time"},
		},
	}
	raw, _ := json.Marshal(schema)
	return string(raw)
}

type Handler struct {
	config     *Config
	dispatcher Dispatcher
	errors     *errors.ErrorHandler
	logger     logger.Logger
}

func NewHandler(config *Config, dispatcher Dispatcher, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		dispatcher: dispatcher,
		errors:     errors.NewErrorHandler(log),
		logger:     log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := ParseInput(job.Variables)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

// ParseInput validates the job variables against the input schema and decodes them.
func ParseInput(variables string) (*Input, error) {
	raw, err := validation.DecodeVariables(variables)
	if err != nil {
		return nil, errors.NewValidationError("variables", err.Error())
	}

	result, err := inputSchema.Validate(raw)
	if err != nil {
		return nil, errors.NewValidationError("variables", err.Error())
	}
	if !result.Valid {
		return nil, errors.NewValidationError(result.Errors[0].Field, strings.Join(result.GetErrorMessages(), "; "))
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewValidationError("variables", fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	res, err := h.dispatcher.CreateOne(ctx, dispatch.Request{
		RecipientID: input.RecipientID,
		Title:       input.Title,
		Message:     input.Message,
		Type:        input.Type,
		Metadata:    input.Metadata,
		Link:        input.Link,
		ExpiresAt:   input.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	if res.Status == dispatch.StatusSkipped {
		h.logger.Info("recipient opted out", map[string]interface{}{
			"recipientId": input.RecipientID,
			"type":        input.Type,
			"reason":      res.Reason,
		})
	}

	return &Output{
		NotificationID: res.ID,
		Status:         string(res.Status),
		Reason:         res.Reason,
		DispatchedAt:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}
