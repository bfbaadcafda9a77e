// internal/workers/notifications/send-bulk-notification/models.go
package sendbulknotification

import (
	"time"

	"notification-hub/internal/dispatch"
)

type Input struct {
	RecipientIDs []string               `json:"recipientIds"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	Type         string                 `json:"type,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Link         *string                `json:"link,omitempty"`
	ExpiresAt    *time.Time             `json:"expiresAt,omitempty"`
}

// Output summarises the fan-out. RetryRecipients can be fed back into a new job.
type Output struct {
	Created         int                                 `json:"notificationsCreated"`
	Skipped         int                                 `json:"notificationsSkipped"`
	Failed          int                                 `json:"notificationsFailed"`
	RetryRecipients []string                            `json:"retryRecipients"`
	Results         map[string]dispatch.RecipientResult `json:"notificationResults"`
	DispatchedAt    string                              `json:"dispatchedAt"`
}
