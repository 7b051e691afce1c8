package generation

import (
	"context"
	"sync"
	"time"

	"github.com/oneiroi/api/internal/flux"
	"github.com/oneiroi/api/internal/proxy"
)

// fakeAPI replays scripted status responses
type fakeAPI struct {
	mu        sync.Mutex
	submitID  string
	submitErr error
	statuses  []statusReply
	submits   int
	results   int
	lastKey   string
	submitted flux.SubmitRequest
}

type statusReply struct {
	resp *flux.ResultResponse
	err  error
}

func (f *fakeAPI) Submit(_ context.Context, apiKey string, payload flux.SubmitRequest) (*flux.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.lastKey = apiKey
	f.submitted = payload
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &flux.SubmitResponse{ID: f.submitID}, nil
}

func (f *fakeAPI) Result(_ context.Context, _ string, id string) (*flux.ResultResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results++
	if len(f.statuses) == 0 {
		return &flux.ResultResponse{ID: id, Status: flux.StatusPending}, nil
	}
	reply := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return reply.resp, reply.err
}

func pending() statusReply {
	return statusReply{resp: &flux.ResultResponse{Status: flux.StatusPending}}
}

func pendingAt(p float64) statusReply {
	return statusReply{resp: &flux.ResultResponse{Status: flux.StatusPending, Progress: &p}}
}

func ready(sample string) statusReply {
	return statusReply{resp: &flux.ResultResponse{Status: flux.StatusReady, Result: &flux.Result{Sample: sample}}}
}

func status(s string) statusReply {
	return statusReply{resp: &flux.ResultResponse{Status: s}}
}

// fakeFetcher returns a fixed payload and counts calls
type fakeFetcher struct {
	mu      sync.Mutex
	payload *proxy.Payload
	err     error
	calls   int
	urls    []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*proxy.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.urls = append(f.urls, rawURL)
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func noWait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// pngBytes starts with the PNG signature so content sniffing classifies it as an image
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
