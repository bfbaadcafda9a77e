package dispatch

import (
	"sort"
	"time"
)

// Status is the outcome of dispatching to one recipient.
type Status string

const (
	StatusCreated Status = "created"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Request describes a single notification to create.
type Request struct {
	RecipientID string                 `json:"recipientId"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Type        string                 `json:"type,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Link        *string                `json:"link,omitempty"`
	ExpiresAt   *time.Time             `json:"expiresAt,omitempty"`
}

// Result is the outcome of CreateOne. Skipped is a success: the user opted out.
type Result struct {
	Status Status `json:"status"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// BulkRequest is one notification template sent to a set of recipients.
type BulkRequest struct {
	RecipientIDs []string               `json:"recipientIds"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	Type         string                 `json:"type,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Link         *string                `json:"link,omitempty"`
	ExpiresAt    *time.Time             `json:"expiresAt,omitempty"`
}

func (b BulkRequest) forRecipient(recipientID string) Request {
	return Request{
		RecipientID: recipientID,
		Title:       b.Title,
		Message:     b.Message,
		Type:        b.Type,
		Metadata:    b.Metadata,
		Link:        b.Link,
		ExpiresAt:   b.ExpiresAt,
	}
}

// RecipientResult is the per-recipient entry of a BulkResult.
type RecipientResult struct {
	Status    Status `json:"status"`
	ID        string `json:"id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// BulkResult maps every distinct recipient to its outcome.
type BulkResult struct {
	Results map[string]RecipientResult `json:"results"`
}

// Failed returns, sorted, the recipients whose failure is worth retrying.
func (b BulkResult) Failed() []string {
	var out []string
	for id, r := range b.Results {
		if r.Status == StatusFailed && r.Retryable {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of recipients with the given status.
func (b BulkResult) Count(status Status) int {
	n := 0
	for _, r := range b.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}
