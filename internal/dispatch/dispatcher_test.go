package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mocks
// ==========================

type MockGate struct {
	mock.Mock
}

func (m *MockGate) Decide(ctx context.Context, userID string, t models.Type) (bool, string) {
	args := m.Called(ctx, userID, t)
	return args.Bool(0), args.String(1)
}

type MockInbox struct {
	mock.Mock
}

func (m *MockInbox) Create(ctx context.Context, n *models.Notification) (string, error) {
	args := m.Called(ctx, n)
	return args.String(0), args.Error(1)
}

func createTestDispatcher(t *testing.T, inbox Inbox, gate Gate) *Dispatcher {
	return New(Config{BulkConcurrency: 4}, inbox, gate, nil, logger.NewTestLogger(t))
}

func forRecipient(id string) interface{} {
	return mock.MatchedBy(func(n *models.Notification) bool { return n.RecipientID == id })
}

// ==========================
// CreateOne
// ==========================

func TestCreateOne_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{name: "missing recipient", req: Request{Title: "x"}, field: "recipientId"},
		{name: "blank recipient", req: Request{RecipientID: "  ", Title: "x"}, field: "recipientId"},
		{name: "missing title", req: Request{RecipientID: "u1"}, field: "title"},
		{name: "unknown type", req: Request{RecipientID: "u1", Title: "x", Type: "promo"}, field: "type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox, gate := new(MockInbox), new(MockGate)
			d := createTestDispatcher(t, inbox, gate)

			_, err := d.CreateOne(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
			assert.Equal(t, tt.field, errors.Normalize(err).Metadata["field"])

			// validation happens before any I/O
			gate.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything, mock.Anything)
			inbox.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateOne_Created(t *testing.T) {
	inbox, gate := new(MockInbox), new(MockGate)
	gate.On("Decide", mock.Anything, "u1", models.TypeInfo).Return(true, "info")
	inbox.On("Create", mock.Anything, mock.MatchedBy(func(n *models.Notification) bool {
		return n.RecipientID == "u1" && n.Title == "Hello" && n.Type == models.TypeInfo && n.Metadata["k"] == "v"
	})).Return("n-1", nil)

	d := createTestDispatcher(t, inbox, gate)
	res, err := d.CreateOne(context.Background(), Request{
		RecipientID: " u1 ",
		Title:       "Hello",
		Metadata:    map[string]interface{}{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusCreated, ID: "n-1"}, res)
	inbox.AssertExpectations(t)
}

func TestCreateOne_SkippedByPreference(t *testing.T) {
	inbox, gate := new(MockInbox), new(MockGate)
	gate.On("Decide", mock.Anything, "u1", models.TypeJobFilled).Return(false, "job_updates")

	d := createTestDispatcher(t, inbox, gate)
	res, err := d.CreateOne(context.Background(), Request{RecipientID: "u1", Title: "Filled", Type: "job_filled"})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Empty(t, res.ID)
	assert.Contains(t, res.Reason, "job_updates")
	inbox.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateOne_StorageError(t *testing.T) {
	tests := []struct {
		name     string
		storeErr error
	}{
		{name: "storage error passes through", storeErr: errors.NewStorageError("create notification", fmt.Errorf("disk full"))},
		{name: "plain error becomes storage error", storeErr: fmt.Errorf("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox, gate := new(MockInbox), new(MockGate)
			gate.On("Decide", mock.Anything, "u1", models.TypeInfo).Return(true, "info")
			inbox.On("Create", mock.Anything, mock.Anything).Return("", tt.storeErr)

			d := createTestDispatcher(t, inbox, gate)
			_, err := d.CreateOne(context.Background(), Request{RecipientID: "u1", Title: "x"})
			require.Error(t, err)
			assert.True(t, errors.IsStorage(err))
		})
	}
}

// ==========================
// CreateBulk
// ==========================

func TestCreateBulk_PartialFailure(t *testing.T) {
	inbox, gate := new(MockInbox), new(MockGate)
	gate.On("Decide", mock.Anything, mock.Anything, models.TypeJobFilled).Return(true, "job_updates")
	inbox.On("Create", mock.Anything, forRecipient("A")).Return("id-A", nil)
	inbox.On("Create", mock.Anything, forRecipient("B")).Return("", errors.NewStorageError("create notification", fmt.Errorf("constraint violation")))
	inbox.On("Create", mock.Anything, forRecipient("C")).Return("id-C", nil)

	d := createTestDispatcher(t, inbox, gate)
	res, err := d.CreateBulk(context.Background(), BulkRequest{
		RecipientIDs: []string{"A", "B", "C"},
		Title:        "Job filled",
		Type:         "job_filled",
	})
	require.NoError(t, err)

	require.Len(t, res.Results, 3)
	assert.Equal(t, RecipientResult{Status: StatusCreated, ID: "id-A"}, res.Results["A"])
	assert.Equal(t, StatusFailed, res.Results["B"].Status)
	assert.True(t, res.Results["B"].Retryable)
	assert.NotEmpty(t, res.Results["B"].Reason)
	assert.Equal(t, RecipientResult{Status: StatusCreated, ID: "id-C"}, res.Results["C"])
	assert.Equal(t, []string{"B"}, res.Failed())
}

func TestCreateBulk_DedupesAndReportsBlanks(t *testing.T) {
	inbox, gate := new(MockInbox), new(MockGate)
	gate.On("Decide", mock.Anything, "u1", models.TypeInfo).Return(true, "info")
	gate.On("Decide", mock.Anything, "u2", models.TypeInfo).Return(false, "info")
	inbox.On("Create", mock.Anything, forRecipient("u1")).Return("id-1", nil).Once()

	d := createTestDispatcher(t, inbox, gate)
	res, err := d.CreateBulk(context.Background(), BulkRequest{
		RecipientIDs: []string{"u1", "u2", "u1", " u1", ""},
		Title:        "Hi",
	})
	require.NoError(t, err)

	require.Len(t, res.Results, 3)
	assert.Equal(t, StatusCreated, res.Results["u1"].Status)
	assert.Equal(t, StatusSkipped, res.Results["u2"].Status)
	assert.Equal(t, StatusFailed, res.Results[""].Status)
	assert.False(t, res.Results[""].Retryable)
	assert.Empty(t, res.Failed())
	inbox.AssertNumberOfCalls(t, "Create", 1)
}

func TestCreateBulk_TemplateValidation(t *testing.T) {
	tests := []struct {
		name string
		req  BulkRequest
	}{
		{name: "no recipients", req: BulkRequest{Title: "x"}},
		{name: "no title", req: BulkRequest{RecipientIDs: []string{"u1"}}},
		{name: "unknown type", req: BulkRequest{RecipientIDs: []string{"u1"}, Title: "x", Type: "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := createTestDispatcher(t, new(MockInbox), new(MockGate))
			_, err := d.CreateBulk(context.Background(), tt.req)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

type countingInbox struct {
	inFlight, peak atomic.Int32
	release        chan struct{}
}

func (c *countingInbox) Create(ctx context.Context, n *models.Notification) (string, error) {
	cur := c.inFlight.Add(1)
	for {
		peak := c.peak.Load()
		if cur <= peak || c.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	<-c.release
	c.inFlight.Add(-1)
	return "id-" + n.RecipientID, nil
}

func TestCreateBulk_BoundedConcurrency(t *testing.T) {
	inbox := &countingInbox{release: make(chan struct{})}
	gate := new(MockGate)
	gate.On("Decide", mock.Anything, mock.Anything, mock.Anything).Return(true, "info")

	d := New(Config{BulkConcurrency: 2}, inbox, gate, nil, logger.NewNoOpLogger())

	recipients := make([]string, 10)
	for i := range recipients {
		recipients[i] = fmt.Sprintf("u%d", i)
	}

	done := make(chan BulkResult)
	go func() {
		res, err := d.CreateBulk(context.Background(), BulkRequest{RecipientIDs: recipients, Title: "x"})
		assert.NoError(t, err)
		done <- res
	}()

	for range recipients {
		inbox.release <- struct{}{}
	}
	res := <-done

	assert.Equal(t, 10, res.Count(StatusCreated))
	assert.LessOrEqual(t, inbox.peak.Load(), int32(2))
}
