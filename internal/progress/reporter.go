package progress

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/models"
)

// Sink receives progress events. Publish must not block for long and never fails the pipeline.
type Sink interface {
	Publish(ctx context.Context, ev models.ProgressEvent)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, ev models.ProgressEvent)

// Publish calls f
func (f SinkFunc) Publish(ctx context.Context, ev models.ProgressEvent) {
	f(ctx, ev)
}

// Discard drops every event
var Discard Sink = SinkFunc(func(context.Context, models.ProgressEvent) {})

// Tee fans events out to every non-nil sink in order
func Tee(sinks ...Sink) Sink {
	var out []Sink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return SinkFunc(func(ctx context.Context, ev models.ProgressEvent) {
		for _, s := range out {
			s.Publish(ctx, ev)
		}
	})
}

// Channel sends events to ch without blocking; events are dropped while ch is full
func Channel(ch chan<- models.ProgressEvent) Sink {
	return SinkFunc(func(_ context.Context, ev models.ProgressEvent) {
		select {
		case ch <- ev:
		default:
		}
	})
}

// Reporter stamps events for one invocation and keeps percent within [0,100] and non-decreasing.
// It is owned by a single invocation and is not safe for concurrent use.
type Reporter struct {
	invocationID string
	sink         Sink
	logger       *zap.Logger
	last         int
	now          func() time.Time
}

// NewReporter creates a Reporter. A nil sink discards events.
func NewReporter(invocationID string, sink Sink, logger *zap.Logger) *Reporter {
	if sink == nil {
		sink = Discard
	}
	return &Reporter{
		invocationID: invocationID,
		sink:         sink,
		logger:       logger,
		now:          time.Now,
	}
}

// Report publishes one event
func (r *Reporter) Report(ctx context.Context, phase models.Phase, message string, percent int) {
	percent = clamp(percent, 0, 100)
	if percent < r.last {
		percent = r.last
	}
	r.last = percent

	ev := models.ProgressEvent{
		InvocationID: r.invocationID,
		Phase:        phase,
		Message:      message,
		Percent:      percent,
		Timestamp:    r.now().UTC(),
	}
	r.logger.Debug("progress",
		zap.String("invocation_id", r.invocationID),
		zap.String("phase", string(phase)),
		zap.Int("percent", percent),
	)
	r.sink.Publish(ctx, ev)
}

// Last returns the most recently published percent
func (r *Reporter) Last() int {
	return r.last
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
