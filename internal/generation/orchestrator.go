// Package generation runs one card rendering end to end: submit a job to the
// remote service, poll it to a terminal state, download the artifact through
// the allow-listed proxy and fall back to a synthesized card on any failure.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/fallback"
	"github.com/oneiroi/api/internal/metrics"
	"github.com/oneiroi/api/internal/models"
	"github.com/oneiroi/api/internal/progress"
)

const tracerName = "github.com/oneiroi/api/internal/generation"

// Progress messages shown to the caller
const (
	MessageRequest     = "Calling the canvas to life…"
	MessagePolling     = "The vision is taking shape…"
	MessageDownloading = "Drawing the final veil…"
	MessageComplete    = "Your vision has arrived."
	MessageFailed      = "The vision faltered before forming."
	MessageBlocked     = "The path was barred by the wards."
	MessageLost        = "The thread of this vision was lost."
	MessageTimedOut    = "The vision took too long to form."
)

const (
	percentRequest     = 10
	percentDownloading = 85
	percentComplete    = 100
)

// Input is one generation invocation
type Input struct {
	// InvocationID tags progress events; a new UUID is used when empty
	InvocationID string
	Request      models.GenerationRequest
	APIKey       string
	// Card is rendered when the remote pipeline fails
	Card fallback.Card
}

// Orchestrator sequences Submit, Poll and Materialize
type Orchestrator struct {
	submitter    *Submitter
	poller       *Poller
	materializer *Materializer
	logger       *zap.Logger
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(submitter *Submitter, poller *Poller, materializer *Materializer, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		submitter:    submitter,
		poller:       poller,
		materializer: materializer,
		logger:       logger,
	}
}

// Generate returns exactly one artifact. Only ErrConfiguration and
// ErrInvalidRequest are returned as errors, both before any network call;
// every later failure emits an error event and yields the fallback card.
func (o *Orchestrator) Generate(ctx context.Context, in Input, sink progress.Sink) (models.Artifact, error) {
	if strings.TrimSpace(in.APIKey) == "" {
		return models.Artifact{}, ErrConfiguration
	}
	req := in.Request.WithDefaults()
	if err := req.Validate(); err != nil {
		return models.Artifact{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	invocationID := in.InvocationID
	if invocationID == "" {
		invocationID = uuid.NewString()
	}
	log := o.logger.With(zap.String("invocation_id", invocationID))

	ctx, span := otel.Tracer(tracerName).Start(ctx, "generation.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("invocation_id", invocationID),
		attribute.String("aspect_ratio", req.AspectRatio),
		attribute.String("output_format", req.OutputFormat),
	)

	reporter := progress.NewReporter(invocationID, sink, log)

	artifact, err := o.run(ctx, in.APIKey, req, reporter, log)
	if err == nil {
		span.SetAttributes(attribute.String("artifact_kind", string(artifact.Kind)))
		metrics.ObserveOutcome(string(models.ArtifactKindReal), Reason(nil))
		return artifact, nil
	}

	reason := Reason(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	log.Warn("generation failed, using fallback card", zap.String("reason", reason), zap.Error(err))

	reporter.Report(ctx, models.PhaseError, failureMessage(err), reporter.Last())

	start := time.Now()
	card, ferr := fallback.Synthesize(in.Card)
	metrics.ObserveStage("fallback", start)
	if ferr != nil {
		return models.Artifact{}, fmt.Errorf("synthesize fallback card: %w", ferr)
	}
	span.SetAttributes(attribute.String("artifact_kind", string(card.Kind)))
	metrics.ObserveOutcome(string(models.ArtifactKindFallback), reason)
	return card, nil
}

func (o *Orchestrator) run(ctx context.Context, apiKey string, req models.GenerationRequest, reporter *progress.Reporter, log *zap.Logger) (models.Artifact, error) {
	tracer := otel.Tracer(tracerName)

	reporter.Report(ctx, models.PhaseRequest, MessageRequest, percentRequest)

	submitCtx, span := tracer.Start(ctx, "generation.Submit")
	start := time.Now()
	job, err := o.submitter.Submit(submitCtx, apiKey, req)
	metrics.ObserveStage("submit", start)
	span.End()
	if err != nil {
		return models.Artifact{}, err
	}
	log = log.With(zap.String("job_id", job.ID))

	pollCtx, span := tracer.Start(ctx, "generation.Poll")
	start = time.Now()
	sampleURL, err := o.poller.Poll(pollCtx, apiKey, job, func(percent int) {
		reporter.Report(ctx, models.PhasePolling, MessagePolling, percent)
	})
	metrics.ObserveStage("poll", start)
	metrics.ObservePollAttempts(job.Attempts)
	span.SetAttributes(attribute.Int("attempts", job.Attempts), attribute.String("state", string(job.State)))
	span.End()
	if err != nil {
		return models.Artifact{}, err
	}
	log.Info("generation job ready", zap.Int("attempts", job.Attempts))

	reporter.Report(ctx, models.PhaseDownloading, MessageDownloading, percentDownloading)

	fetchCtx, span := tracer.Start(ctx, "generation.Materialize")
	start = time.Now()
	artifact, err := o.materializer.Materialize(fetchCtx, sampleURL)
	metrics.ObserveStage("materialize", start)
	span.End()
	if err != nil {
		return models.Artifact{}, err
	}

	reporter.Report(ctx, models.PhaseComplete, MessageComplete, percentComplete)
	return artifact, nil
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrPolicy):
		return MessageBlocked
	case errors.Is(err, ErrJobLost):
		return MessageLost
	case errors.Is(err, ErrTimeout):
		return MessageTimedOut
	default:
		return MessageFailed
	}
}
