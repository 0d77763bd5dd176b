package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/metrics"
	"github.com/ammar0144/recsync/pkg/model"
	"github.com/ammar0144/recsync/pkg/similarity"
)

// Generator produces recommendation records from a dataset file
type Generator interface {
	Generate(ctx context.Context, path string, topN int) ([]model.Recommendation, error)
}

// Job is one dataset to process
type Job struct {
	ID   string
	Path string
	TopN int
}

// Result is the outcome of one job
type Result struct {
	JobID       string        `json:"job_id"`
	Path        string        `json:"path"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Records     int           `json:"records"`
	Attempts    int           `json:"attempts"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Duration    time.Duration `json:"duration"`
	Err         error         `json:"-"`
}

// Succeeded reports whether the job published all of its records
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Runner executes jobs: generate once, then publish with bounded retries
type Runner struct {
	generator Generator
	publisher *Publisher
	config    *Config
	topN      int
}

// NewRunner creates a runner. topN is used for jobs that do not set their own.
func NewRunner(generator Generator, publisher *Publisher, config *Config, topN int) *Runner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Runner{generator: generator, publisher: publisher, config: config, topN: topN}
}

// Run processes the job. Generation and publish are retried together up to
// retry_attempts times; a successful generation is kept across retries so a
// failed publish only repeats the publish. Data format errors are not retried.
func (r *Runner) Run(ctx context.Context, job Job) Result {
	ctx = logging.ContextWithJobID(ctx, job.ID)
	if r.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.JobTimeout)
		defer cancel()
	}

	topN := job.TopN
	if topN == 0 {
		topN = r.topN
	}

	res := Result{JobID: job.ID, Path: job.Path, StartedAt: time.Now()}
	if fp, err := similarity.Fingerprint(job.Path); err == nil {
		res.Fingerprint = strconv.FormatUint(fp, 16)
	}

	log := logging.Ctx(ctx)
	log.Info().Str("path", job.Path).Str("fingerprint", res.Fingerprint).Int("top_n", topN).Msg("job started")

	var records []model.Recommendation
	var lastErr error
	operation := func() (int, error) {
		res.Attempts++
		if records == nil {
			recs, err := r.generator.Generate(ctx, job.Path, topN)
			if err != nil {
				lastErr = err
				if errs.IsDataFormat(err) {
					return 0, backoff.Permanent(err)
				}
				return 0, err
			}
			records = recs
		}
		if err := r.publisher.Publish(ctx, records); err != nil {
			lastErr = err
			return 0, err
		}
		return len(records), nil
	}

	n, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.config.RetryDelay)),
		backoff.WithMaxTries(uint(r.config.RetryAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Int("attempt", res.Attempts).Dur("retry_in", next).Msg("job attempt failed")
		}),
	)
	if err != nil && lastErr != nil && !errors.Is(err, lastErr) {
		// the deadline ended the retries: keep the failure that caused them
		err = fmt.Errorf("%w (last attempt: %w)", err, lastErr)
	}

	res.Records = n
	res.Err = err
	res.FinishedAt = time.Now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)

	status := "succeeded"
	if err != nil {
		status = "failed"
		log.Error().Err(err).Int("attempts", res.Attempts).Dur("elapsed", res.Duration).Msg("job failed")
	} else {
		log.Info().Int("records", n).Int("attempts", res.Attempts).Dur("elapsed", res.Duration).Msg("job completed")
	}
	metrics.RecordJob(status, res.Attempts, res.Duration)
	return res
}
