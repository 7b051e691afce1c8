package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/models"
)

// ProgressSubjectPrefix is followed by the invocation id
const ProgressSubjectPrefix = "cards.progress."

// ProgressSubject returns the subject events of one invocation are published on
func ProgressSubject(invocationID string) string {
	return ProgressSubjectPrefix + invocationID
}

// Connect opens a NATS connection
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("oneiroi-api"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("NATS connection established", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// Publisher is the subset of *nats.Conn used to fan out events
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ProgressPublisher forwards progress events to NATS. Publish failures are
// logged and never interrupt generation.
type ProgressPublisher struct {
	pub    Publisher
	logger *zap.Logger
}

// NewProgressPublisher creates a ProgressPublisher
func NewProgressPublisher(pub Publisher, logger *zap.Logger) *ProgressPublisher {
	return &ProgressPublisher{pub: pub, logger: logger.Named("eventbus")}
}

// Publish implements progress.Sink
func (p *ProgressPublisher) Publish(_ context.Context, ev models.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode progress event", zap.Error(err))
		return
	}
	if err := p.pub.Publish(ProgressSubject(ev.InvocationID), data); err != nil {
		p.logger.Warn("failed to publish progress event",
			zap.String("invocation_id", ev.InvocationID),
			zap.String("phase", string(ev.Phase)),
			zap.Error(err),
		)
	}
}

// SubscribeProgress calls handler for every event of one invocation, or of
// all invocations when invocationID is "*"
func SubscribeProgress(nc *nats.Conn, invocationID string, handler func(models.ProgressEvent)) (*nats.Subscription, error) {
	return nc.Subscribe(ProgressSubject(invocationID), func(msg *nats.Msg) {
		var ev models.ProgressEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		handler(ev)
	})
}
