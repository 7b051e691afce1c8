package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/flux"
	"github.com/oneiroi/api/internal/models"
)

func newTestPoller(api StatusAPI, maxAttempts int) *Poller {
	p := NewPoller(api, maxAttempts, time.Second, zap.NewNop())
	p.wait = noWait
	return p
}

func TestPollReadyAfterPending(t *testing.T) {
	api := &fakeAPI{statuses: []statusReply{pending(), pending(), ready("https://x.bfl.ai/a.png")}}
	job := &models.GenerationJob{ID: "abc"}

	var percents []int
	sample, err := newTestPoller(api, 30).Poll(context.Background(), "key", job, func(p int) {
		percents = append(percents, p)
	})

	require.NoError(t, err)
	assert.Equal(t, "https://x.bfl.ai/a.png", sample)
	assert.Equal(t, 3, api.results)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, models.JobStateReady, job.State)
	assert.Len(t, percents, 2)
}

func TestPollStopsOnModeration(t *testing.T) {
	for _, s := range []string{flux.StatusRequestModerated, flux.StatusContentModerated} {
		t.Run(s, func(t *testing.T) {
			api := &fakeAPI{statuses: []statusReply{status(s)}}
			job := &models.GenerationJob{ID: "abc"}

			_, err := newTestPoller(api, 30).Poll(context.Background(), "key", job, nil)

			assert.ErrorIs(t, err, ErrPolicy)
			assert.Equal(t, 1, api.results)
			assert.Equal(t, models.JobStateModerated, job.State)
		})
	}
}

func TestPollTimesOut(t *testing.T) {
	api := &fakeAPI{}
	job := &models.GenerationJob{ID: "abc"}

	_, err := newTestPoller(api, 3).Poll(context.Background(), "key", job, nil)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 3, api.results)
	assert.Equal(t, models.JobStateTimedOut, job.State)
}

func TestPollRetriesTransportErrors(t *testing.T) {
	api := &fakeAPI{statuses: []statusReply{
		{err: errors.New("connection reset")},
		{err: &flux.APIError{StatusCode: 502}},
		ready("https://x.bfl.ai/a.png"),
	}}
	job := &models.GenerationJob{ID: "abc"}

	sample, err := newTestPoller(api, 5).Poll(context.Background(), "key", job, nil)

	require.NoError(t, err)
	assert.Equal(t, "https://x.bfl.ai/a.png", sample)
	assert.Equal(t, 3, api.results)
}

func TestPollTransportErrorOnLastAttempt(t *testing.T) {
	api := &fakeAPI{statuses: []statusReply{pending(), {err: errors.New("connection reset")}}}
	job := &models.GenerationJob{ID: "abc"}

	_, err := newTestPoller(api, 2).Poll(context.Background(), "key", job, nil)

	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 2, api.results)
}

func TestPollTerminalFailures(t *testing.T) {
	tests := []struct {
		name   string
		reply  statusReply
		target error
	}{
		{"not found", status(flux.StatusTaskNotFound), ErrJobLost},
		{"error", status(flux.StatusError), ErrGeneration},
		{"ready without sample", status(flux.StatusReady), ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{statuses: []statusReply{tt.reply}}

			_, err := newTestPoller(api, 30).Poll(context.Background(), "key", &models.GenerationJob{ID: "abc"}, nil)

			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, 1, api.results)
		})
	}
}

func TestPollErrorCarriesDetails(t *testing.T) {
	api := &fakeAPI{statuses: []statusReply{{resp: &flux.ResultResponse{
		Status:  flux.StatusError,
		Details: []byte(`{"reason":"gpu"}`),
	}}}}

	_, err := newTestPoller(api, 30).Poll(context.Background(), "key", &models.GenerationJob{ID: "abc"}, nil)

	var failure *UpstreamFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "abc", failure.JobID)
	assert.JSONEq(t, `{"reason":"gpu"}`, string(failure.Details))
}

func TestPollUnknownStatusKeepsPolling(t *testing.T) {
	api := &fakeAPI{statuses: []statusReply{status("Queued"), ready("https://x.bfl.ai/a.png")}}

	_, err := newTestPoller(api, 30).Poll(context.Background(), "key", &models.GenerationJob{ID: "abc"}, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, api.results)
}

func TestPollPrefersUpstreamProgress(t *testing.T) {
	api := &fakeAPI{statuses: []statusReply{pendingAt(40), pendingAt(5), pendingAt(99), ready("https://x.bfl.ai/a.png")}}
	job := &models.GenerationJob{ID: "abc"}

	var percents []int
	_, err := newTestPoller(api, 30).Poll(context.Background(), "key", job, func(p int) {
		percents = append(percents, p)
	})

	require.NoError(t, err)
	assert.Equal(t, []int{40, 15, 80}, percents)
	require.NotNil(t, job.Progress)
	assert.Equal(t, 99, *job.Progress)
}

func TestPollHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api := &fakeAPI{}

	_, err := newTestPoller(api, 30).Poll(ctx, "key", &models.GenerationJob{ID: "abc"}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, api.results)
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		attempt, max, want int
	}{
		{0, 30, 15},
		{1, 30, 17},
		{15, 30, 48},
		{30, 30, 80},
		{1, 1, 80},
		{5, 0, 80},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Estimate(tt.attempt, tt.max), "attempt %d of %d", tt.attempt, tt.max)
	}
}

func TestSleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleep(context.Background(), 0))
}
