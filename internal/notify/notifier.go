// Package notify emits job-completion summaries. Actual delivery (email,
// spreadsheet, chat) is an external collaborator; this package defines the
// interface and a log-backed implementation.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adtelic/conversion-loader/internal/config"
)

// Summary is the job-level digest handed to notifiers.
type Summary struct {
	JobID     string
	Src       string
	Status    string
	Shards    int
	Submitted int
	Succeeded int
	Duration  time.Duration
}

// Notifier delivers a job-completion summary to its configured target.
type Notifier interface {
	NotifyJobCompletion(ctx context.Context, s Summary)
}

// LogNotifier writes the summary to the structured log. It stands in for the
// external email/spreadsheet reporting step and records the target it would
// have delivered to.
type LogNotifier struct {
	target string
	log    *slog.Logger
}

// NewLogNotifier resolves the notification target from the configuration
// store. An empty target disables nothing: the summary is still logged.
func NewLogNotifier(store config.Store) *LogNotifier {
	target, _ := store.Get("notify", "target")
	return &LogNotifier{
		target: target,
		log:    slog.With("component", "notifier"),
	}
}

// NotifyJobCompletion logs the job summary.
func (n *LogNotifier) NotifyJobCompletion(ctx context.Context, s Summary) {
	failed := s.Submitted - s.Succeeded
	message := fmt.Sprintf(
		"Job %s finished with status %s: %d shards, %d submitted, %d succeeded, %d failed in %s",
		s.JobID, s.Status, s.Shards, s.Submitted, s.Succeeded, failed, s.Duration.Round(time.Second))

	log := n.log.With("job_id", s.JobID, "src", s.Src, "target", n.target)
	if s.Status == "COMPLETED" {
		log.Info(message)
	} else {
		log.Warn(message)
	}
}

var _ Notifier = (*LogNotifier)(nil)
