// internal/common/camunda/worker.go
package camunda

import (
	"sync"

	"notification-hub/internal/common/config"
	"notification-hub/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// Workers owns the job workers opened against one client.
type Workers struct {
	client *Client
	logger logger.Logger

	mu      sync.Mutex
	workers map[string]worker.JobWorker
}

func NewWorkers(client *Client, log logger.Logger) *Workers {
	return &Workers{
		client:  client,
		logger:  log,
		workers: make(map[string]worker.JobWorker),
	}
}

// Start opens a job worker for taskType unless it is disabled in wcfg.
// Starting the same task type twice is a no-op.
func (w *Workers) Start(taskType string, wcfg config.WorkerConfig, handler worker.JobHandler) {
	if !wcfg.Enabled {
		w.logger.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.workers[taskType]; ok {
		return
	}

	w.workers[taskType] = w.client.Raw().NewJobWorker().
		JobType(taskType).
		Handler(handler).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	w.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
}

// Close stops every worker and waits for in-flight jobs.
func (w *Workers) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	var wg sync.WaitGroup
	for taskType, jw := range w.workers {
		wg.Add(1)
		go func(taskType string, jw worker.JobWorker) {
			defer wg.Done()
			jw.Close()
			jw.AwaitClose()
			w.logger.Info("worker stopped", map[string]interface{}{"taskType": taskType})
		}(taskType, jw)
	}
	wg.Wait()
	w.workers = make(map[string]worker.JobWorker)
}
