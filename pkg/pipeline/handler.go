package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ammar0144/recsync/pkg/events"
	"github.com/ammar0144/recsync/pkg/logging"
)

// NewDatasetHandler returns the dataset_uploaded subscriber. It launches the
// job and returns without waiting for it.
func NewDatasetHandler(launcher *Launcher) events.Handler {
	return func(ctx context.Context, e events.Event) error {
		path := e.String(events.PayloadPath)
		if path == "" {
			return fmt.Errorf("event %s: missing %q", e.Name, events.PayloadPath)
		}
		job := Job{ID: e.String(events.PayloadJobID), Path: path}
		if n, ok := e.Payload[events.PayloadTopN].(int); ok {
			job.TopN = n
		}

		// the result channel is buffered; the runner logs the outcome
		jobID, _, err := launcher.Launch(ctx, job)
		if errors.Is(err, ErrJobActive) {
			// redelivered trigger for a job that is already in flight
			logging.Ctx(ctx).Info().Str("job_id", jobID).Str("event", e.Name).Msg("duplicate dataset event ignored")
			return nil
		}
		if err != nil {
			return err
		}
		logging.Ctx(ctx).Debug().Str("job_id", jobID).Str("event", e.Name).Msg("dataset event handled")
		return nil
	}
}
