// internal/workers/notifications/send-notification/models.go
package sendnotification

import "time"

// Input is read from the job variables.
type Input struct {
	RecipientID string                 `json:"recipientId"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Type        string                 `json:"type,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Link        *string                `json:"link,omitempty"`
	ExpiresAt   *time.Time             `json:"expiresAt,omitempty"`
}

// Output is written back to the process instance.
type Output struct {
	NotificationID string `json:"notificationId,omitempty"`
	Status         string `json:"notificationStatus"`
	Reason         string `json:"notificationSkipReason,omitempty"`
	DispatchedAt   string `json:"dispatchedAt"`
}

const (
	StatusCreated = "created"
	StatusSkipped = "skipped"
)
