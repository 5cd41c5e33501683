package reconciler

import (
	"time"
)

// progressSteps is the number of steps a run reports before completing:
// ledger, receipts, preparation and matching
const progressSteps = 4

// ReconciliationProgress tracks the progress of one run
type ReconciliationProgress struct {
	TotalSteps         int           `json:"total_steps"`
	CompletedSteps     int           `json:"completed_steps"`
	CurrentStep        string        `json:"current_step"`
	PercentComplete    float64       `json:"percent_complete"`
	StartTime          time.Time     `json:"start_time"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// ProgressCallback is called to report reconciliation progress. It runs on
// the goroutine calling Process.
type ProgressCallback func(ReconciliationProgress)

// AddProgressCallback adds a progress callback function. Callbacks must be
// registered before the service is shared between goroutines.
func (rs *ReconciliationService) AddProgressCallback(callback ProgressCallback) {
	rs.progressCallbacks = append(rs.progressCallbacks, callback)
}

func newProgress(start time.Time) *ReconciliationProgress {
	return &ReconciliationProgress{
		TotalSteps: progressSteps,
		StartTime:  start,
	}
}

func (rs *ReconciliationService) reportProgress(progress *ReconciliationProgress, step string, completed int) {
	elapsed := time.Since(progress.StartTime)

	progress.CurrentStep = step
	progress.CompletedSteps = completed
	progress.ElapsedTime = elapsed
	progress.PercentComplete = float64(completed) / float64(progress.TotalSteps) * 100

	progress.EstimatedRemaining = 0
	if completed > 0 && completed < progress.TotalSteps {
		avgTimePerStep := elapsed / time.Duration(completed)
		progress.EstimatedRemaining = avgTimePerStep * time.Duration(progress.TotalSteps-completed)
	}

	rs.logger.WithField("step", step).Debugf("Progress %.0f%%", progress.PercentComplete)
	for _, callback := range rs.progressCallbacks {
		callback(*progress)
	}
}
