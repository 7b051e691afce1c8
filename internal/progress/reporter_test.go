package progress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/models"
)

func TestReporterClampsAndKeepsPercentMonotonic(t *testing.T) {
	ch := make(chan models.ProgressEvent, 8)
	r := NewReporter("inv-1", Channel(ch), zap.NewNop())
	ctx := context.Background()

	r.Report(ctx, models.PhaseRequest, "start", -5)
	r.Report(ctx, models.PhasePolling, "poll", 40)
	r.Report(ctx, models.PhasePolling, "poll", 20)
	r.Report(ctx, models.PhaseComplete, "done", 140)
	close(ch)

	var percents []int
	for ev := range ch {
		assert.Equal(t, "inv-1", ev.InvocationID)
		assert.False(t, ev.Timestamp.IsZero())
		percents = append(percents, ev.Percent)
	}
	assert.Equal(t, []int{0, 40, 40, 100}, percents)
	assert.Equal(t, 100, r.Last())
}

func TestChannelDropsWhenFull(t *testing.T) {
	ch := make(chan models.ProgressEvent, 1)
	r := NewReporter("inv-1", Channel(ch), zap.NewNop())

	r.Report(context.Background(), models.PhaseRequest, "a", 10)
	r.Report(context.Background(), models.PhasePolling, "b", 20)

	require.Len(t, ch, 1)
	assert.Equal(t, "a", (<-ch).Message)
}

func TestTeeSkipsNilSinks(t *testing.T) {
	var got []string
	collect := SinkFunc(func(_ context.Context, ev models.ProgressEvent) {
		got = append(got, ev.Message)
	})
	r := NewReporter("inv-1", Tee(nil, collect, collect), zap.NewNop())

	r.Report(context.Background(), models.PhaseRequest, "hello", 10)

	assert.Equal(t, []string{"hello", "hello"}, got)
}

func TestNilSinkDiscards(t *testing.T) {
	r := NewReporter("inv-1", nil, zap.NewNop())
	assert.NotPanics(t, func() {
		r.Report(context.Background(), models.PhaseRequest, "x", 10)
	})
}
