package scheduler

import (
	"github.com/rs/zerolog"
)

// AlertStateCleanupJob drops alert engine states that have sat idle past their TTL.
type AlertStateCleanupJob struct {
	engine  AlertEvaluator
	metrics MetricsRecorder
	log     zerolog.Logger
}

// NewAlertStateCleanupJob creates a new alert state cleanup job. metrics may be nil.
func NewAlertStateCleanupJob(engine AlertEvaluator, metrics MetricsRecorder, log zerolog.Logger) *AlertStateCleanupJob {
	return &AlertStateCleanupJob{
		engine:  engine,
		metrics: metrics,
		log:     log.With().Str("job", "alert_state_cleanup").Logger(),
	}
}

// Run executes the cleanup job
func (j *AlertStateCleanupJob) Run() error {
	removed := j.engine.CleanupExpiredStates()
	remaining := j.engine.StateCount()

	if j.metrics != nil {
		j.metrics.ObserveAlertStates(remaining)
	}

	if removed > 0 {
		j.log.Info().
			Int("removed", removed).
			Int("remaining", remaining).
			Msg("Cleaned up expired alert states")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *AlertStateCleanupJob) Name() string {
	return "alert_state_cleanup"
}
