// internal/workers/notifications/send-bulk-notification/handler.go
package sendbulknotification

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

const TaskType = "send-bulk-notification"

type Dispatcher interface {
	CreateBulk(ctx context.Context, req dispatch.BulkRequest) (dispatch.BulkResult, error)
}

var inputSchema = validation.MustCompile(buildInputSchema())

func buildInputSchema() string {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []string{"recipientIds", "title"},
		"properties": map[string]interface{}{
			"recipientIds": map[string]interface{}{
				"type":     "array",
				"minItems": 1,
				"items":    map[string]interface{}{"type": "string"},
			},
			"title":     map[string]interface{}{"type": "string", "minLength": 1},
			"message":   map[string]interface{}{"type": "string"},
			"type":      map[string]interface{}{"type": "string", "enum": append([]string{""}, models.TypeNames()...)},
			"metadata":  map[string]interface{}{"type": "object"},
			"link":      map[string]interface{}{"type": "string"},
			"expiresAt": map[string]interface{}{"type": "string", "format": "date-time"},
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

// Execute fans the notification out. Partial failure completes the job with the
// retryable recipients listed. It returns an error only when nothing was created
// or skipped and every failure is retryable.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	res, err := h.dispatcher.CreateBulk(ctx, dispatch.BulkRequest{
		RecipientIDs: input.RecipientIDs,
		Title:        input.Title,
		Message:      input.Message,
		Type:         input.Type,
		Metadata:     input.Metadata,
		Link:         input.Link,
		ExpiresAt:    input.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	retry := res.Failed()
	if retry == nil {
		retry = []string{}
	}
	output := &Output{
		Created:         res.Count(dispatch.StatusCreated),
		Skipped:         res.Count(dispatch.StatusSkipped),
		Failed:          res.Count(dispatch.StatusFailed),
		RetryRecipients: retry,
		Results:         res.Results,
		DispatchedAt:    time.Now().UTC().Format(time.RFC3339),
	}

	if output.Failed > 0 && output.Created == 0 && output.Skipped == 0 && len(retry) == output.Failed {
		return nil, errors.NewStorageError("create bulk notifications",
			fmt.Errorf("all %d recipients failed: %s", output.Failed, res.Results[retry[0]].Reason))
	}

	if output.Failed > 0 {
		h.logger.Warn("bulk dispatch partially failed", map[string]interface{}{
			"created":         output.Created,
			"skipped":         output.Skipped,
			"failed":          output.Failed,
			"retryRecipients": retry,
		})
	}
	return output, nil
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
