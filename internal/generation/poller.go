package generation

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/flux"
	"github.com/oneiroi/api/internal/models"
)

// Polling progress is mapped onto [pollFloor, pollCeiling]
const (
	pollFloor   = 15
	pollCeiling = 80
	pollSpan    = 65
)

// Poller drives a submitted job to a terminal state with a bounded attempt budget
type Poller struct {
	api         StatusAPI
	maxAttempts int
	interval    time.Duration
	logger      *zap.Logger
	wait        func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller. maxAttempts below 1 is treated as 1.
func NewPoller(api StatusAPI, maxAttempts int, interval time.Duration, logger *zap.Logger) *Poller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Poller{
		api:         api,
		maxAttempts: maxAttempts,
		interval:    interval,
		logger:      logger,
		wait:        sleep,
	}
}

// MaxAttempts returns the attempt budget
func (p *Poller) MaxAttempts() int {
	return p.maxAttempts
}

// Poll issues at most maxAttempts status calls and returns the sample URL once
// the job is Ready. onPending is called with an estimated percent after each
// non-terminal attempt. job.State and job.Attempts are updated in place.
func (p *Poller) Poll(ctx context.Context, apiKey string, job *models.GenerationJob, onPending func(percent int)) (string, error) {
	log := p.logger.With(zap.String("job_id", job.ID))

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		job.Attempts = attempt
		resp, err := p.api.Result(ctx, apiKey, job.ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			lastErr = err
			log.Warn("status check failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			lastErr = nil
			job.State = classify(resp.Status)
			switch job.State {
			case models.JobStateReady:
				sample := resp.SampleURL()
				if sample == "" {
					return "", fmt.Errorf("%w: job %s completed without data", ErrUpstream, job.ID)
				}
				return sample, nil
			case models.JobStateError:
				return "", &UpstreamFailure{JobID: job.ID, Details: resp.Details}
			case models.JobStateModerated:
				return "", fmt.Errorf("%w: %s", ErrPolicy, resp.Status)
			case models.JobStateNotFound:
				return "", ErrJobLost
			}

			percent := Estimate(attempt, p.maxAttempts)
			if resp.Progress != nil {
				upstream := int(math.Round(*resp.Progress))
				job.Progress = &upstream
				percent = clampPoll(upstream)
			}
			if onPending != nil {
				onPending(percent)
			}
			log.Debug("job pending", zap.Int("attempt", attempt), zap.Int("percent", percent))
		}

		if attempt < p.maxAttempts {
			if err := p.wait(ctx, p.interval); err != nil {
				return "", err
			}
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: status: %w", ErrUpstream, lastErr)
	}
	job.State = models.JobStateTimedOut
	return "", ErrTimeout
}

// Estimate maps an attempt number onto the polling percent range. It is used
// when the service does not report its own progress.
func Estimate(attempt, maxAttempts int) int {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return clampPoll(int(math.Round(float64(attempt)/float64(maxAttempts)*pollSpan)) + pollFloor)
}

func clampPoll(v int) int {
	if v < pollFloor {
		return pollFloor
	}
	if v > pollCeiling {
		return pollCeiling
	}
	return v
}

// classify maps the wire status to a job state. Unknown values keep polling.
func classify(status string) models.JobState {
	switch status {
	case flux.StatusReady:
		return models.JobStateReady
	case flux.StatusError:
		return models.JobStateError
	case flux.StatusRequestModerated, flux.StatusContentModerated:
		return models.JobStateModerated
	case flux.StatusTaskNotFound:
		return models.JobStateNotFound
	default:
		return models.JobStatePending
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
