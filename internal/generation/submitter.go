package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/flux"
	"github.com/oneiroi/api/internal/models"
)

// StatusAPI fetches one status snapshot of a job
type StatusAPI interface {
	Result(ctx context.Context, apiKey, id string) (*flux.ResultResponse, error)
}

// JobAPI is the remote generation service
type JobAPI interface {
	StatusAPI
	Submit(ctx context.Context, apiKey string, payload flux.SubmitRequest) (*flux.SubmitResponse, error)
}

// Submitter creates remote generation jobs
type Submitter struct {
	api    JobAPI
	logger *zap.Logger
	now    func() time.Time
}

// NewSubmitter creates a Submitter
func NewSubmitter(api JobAPI, logger *zap.Logger) *Submitter {
	return &Submitter{api: api, logger: logger, now: time.Now}
}

// Submit posts req and returns a job in the Requested state. The request is not retried.
func (s *Submitter) Submit(ctx context.Context, apiKey string, req models.GenerationRequest) (*models.GenerationJob, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrConfiguration
	}

	resp, err := s.api.Submit(ctx, apiKey, flux.SubmitRequest{
		Prompt:           req.Prompt,
		AspectRatio:      req.AspectRatio,
		OutputFormat:     req.OutputFormat,
		SafetyTolerance:  req.SafetyTolerance,
		Seed:             req.Seed,
		PromptUpsampling: req.PromptUpsampling,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: submit: %w", ErrUpstream, err)
	}
	if strings.TrimSpace(resp.ID) == "" {
		return nil, fmt.Errorf("%w: submit response has no job id", ErrUpstream)
	}

	s.logger.Info("generation job submitted", zap.String("job_id", resp.ID), zap.String("status", resp.Status))
	return &models.GenerationJob{
		ID:        resp.ID,
		State:     models.JobStateRequested,
		CreatedAt: s.now().UTC(),
	}, nil
}
