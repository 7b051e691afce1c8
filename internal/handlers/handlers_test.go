package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/fallback"
	"github.com/oneiroi/api/internal/generation"
	"github.com/oneiroi/api/internal/models"
	"github.com/oneiroi/api/internal/progress"
	"github.com/oneiroi/api/internal/proxy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubGenerator struct {
	calls int
	input generation.Input
	err   error
}

func (s *stubGenerator) Generate(ctx context.Context, in generation.Input, sink progress.Sink) (models.Artifact, error) {
	s.calls++
	s.input = in
	if s.err != nil {
		return models.Artifact{}, s.err
	}
	r := progress.NewReporter(in.InvocationID, sink, zap.NewNop())
	r.Report(ctx, models.PhaseRequest, generation.MessageRequest, 10)
	r.Report(ctx, models.PhaseComplete, generation.MessageComplete, 100)
	return models.Artifact{Kind: models.ArtifactKindReal, Bytes: []byte("png"), MimeType: "image/png"}, nil
}

func newCardsRouter(gen CardGenerator, defaultKey string) *gin.Engine {
	return newCardsRouterWithPolls(gen, defaultKey, 30)
}

func newCardsRouterWithPolls(gen CardGenerator, defaultKey string, maxPolls int) *gin.Engine {
	r := gin.New()
	h := NewGenerationHandler(gen, defaultKey, maxPolls, nil, zap.NewNop())
	r.POST("/api/v1/cards", h.CreateCard)
	return r
}

func postCard(r *gin.Engine, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cards", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateCardJSON(t *testing.T) {
	gen := &stubGenerator{}
	r := newCardsRouter(gen, "default-key")

	w := postCard(r, `{"request":{"prompt":"a tarot card of the moon"},"theme":"colorful","title":"The Moon"}`, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ArtifactKindReal, resp.Kind)
	assert.Equal(t, "data:image/png;base64,cG5n", resp.DataURL)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, resp.InvocationID, resp.Events[0].InvocationID)

	assert.Equal(t, "default-key", gen.input.APIKey)
	assert.Equal(t, "2:3", gen.input.Request.AspectRatio)
	assert.Equal(t, "The Moon", gen.input.Card.Title)
}

func TestCreateCardHeaderKeyWins(t *testing.T) {
	gen := &stubGenerator{}
	r := newCardsRouter(gen, "default-key")

	w := postCard(r, `{"request":{"prompt":"owl"}}`, map[string]string{"X-Key": "caller-key"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "caller-key", gen.input.APIKey)
}

func TestCreateCardFromAnalysis(t *testing.T) {
	gen := &stubGenerator{}
	r := newCardsRouter(gen, "k")

	body := `{"analysis":{"analysis":"A silver shore.","symbols":["moon","tide"],"archetypes":["The Wanderer"],
		"emotions":["calm"],"tarotCard":{"title":"The Moon","subtitle":"Tides"}},"theme":"minimal"}`
	w := postCard(r, body, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, gen.input.Request.Prompt, "featuring the wanderer")
	assert.Equal(t, fallback.Card{Theme: "minimal", Title: "The Moon", Subtitle: "Tides", Keywords: []string{"moon", "tide"}}, gen.input.Card)
}

func TestCreateCardRejectsBeforeGenerating(t *testing.T) {
	tests := []struct {
		name       string
		defaultKey string
		body       string
		code       string
	}{
		{"no key", "", `{"request":{"prompt":"owl"}}`, "NOT_CONFIGURED"},
		{"empty prompt", "k", `{"request":{"prompt":"  "}}`, "BAD_REQUEST"},
		{"bad format", "k", `{"request":{"prompt":"owl","output_format":"gif"}}`, "BAD_REQUEST"},
		{"malformed json", "k", `{"request":`, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{}
			w := postCard(newCardsRouter(gen, tt.defaultKey), tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
			assert.Zero(t, gen.calls)
		})
	}
}

func TestCreateCardGeneratorError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("template exploded")}
	w := postCard(newCardsRouter(gen, "k"), `{"request":{"prompt":"owl"}}`, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateCardSSE(t *testing.T) {
	gen := &stubGenerator{}
	w := postCard(newCardsRouter(gen, "k"), `{"request":{"prompt":"owl"}}`, map[string]string{"Accept": "text/event-stream"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	var names []string
	scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event:"); ok {
			names = append(names, name)
		}
	}
	assert.Equal(t, []string{"progress", "progress", "artifact"}, names)
	assert.Contains(t, w.Body.String(), `"data_url":"data:image/png;base64,cG5n"`)
}

// pollingGenerator reports one polling event per attempt before completing
type pollingGenerator struct {
	polls int
}

func (g *pollingGenerator) Generate(ctx context.Context, in generation.Input, sink progress.Sink) (models.Artifact, error) {
	r := progress.NewReporter(in.InvocationID, sink, zap.NewNop())
	r.Report(ctx, models.PhaseRequest, generation.MessageRequest, 10)
	for i := 1; i <= g.polls; i++ {
		r.Report(ctx, models.PhasePolling, generation.MessagePolling, generation.Estimate(i, g.polls))
	}
	r.Report(ctx, models.PhaseDownloading, generation.MessageDownloading, 85)
	r.Report(ctx, models.PhaseComplete, generation.MessageComplete, 100)
	return models.Artifact{Kind: models.ArtifactKindReal, Bytes: []byte("png"), MimeType: "image/png"}, nil
}

func TestCreateCardStreamKeepsEveryPollingEvent(t *testing.T) {
	const polls = 150
	r := newCardsRouterWithPolls(&pollingGenerator{polls: polls}, "k", polls)

	w := postCard(r, `{"request":{"prompt":"owl"}}`, map[string]string{"Accept": "text/event-stream"})

	require.Equal(t, http.StatusOK, w.Code)
	progressEvents := 0
	scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for scanner.Scan() {
		if scanner.Text() == "event:progress" {
			progressEvents++
		}
	}
	assert.Equal(t, polls+3, progressEvents)
}

type stubFetcher struct {
	payload *proxy.Payload
	err     error
	calls   int
}

func (s *stubFetcher) Fetch(_ context.Context, _ string) (*proxy.Payload, error) {
	s.calls++
	return s.payload, s.err
}

func proxyGet(h *ProxyHandler, target string) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/proxy", h.Proxy)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestProxySuccess(t *testing.T) {
	f := &stubFetcher{payload: &proxy.Payload{Body: []byte("img"), ContentType: "image/jpeg"}}

	w := proxyGet(NewProxyHandler(f, zap.NewNop()), "/proxy?url=https%3A%2F%2Fdelivery.bfl.ai%2Fa.jpg")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "img", w.Body.String())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store, no-cache, must-revalidate, proxy-revalidate", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", w.Header().Get("Pragma"))
	assert.Equal(t, "0", w.Header().Get("Expires"))
}

func TestProxyMissingURL(t *testing.T) {
	f := &stubFetcher{}
	w := proxyGet(NewProxyHandler(f, zap.NewNop()), "/proxy")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Missing url parameter")
	assert.Zero(t, f.calls)
}

func TestProxyRejectsHostWithoutOutboundCall(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer upstream.Close()

	fetcher := proxy.NewDirectFetcher(proxy.NewAllowList("bfl.ai"), upstream.Client(), 0, zap.NewNop())
	w := proxyGet(NewProxyHandler(fetcher, zap.NewNop()), "/proxy?url="+upstream.URL+"/a.png")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid host for image proxy")
	assert.Zero(t, hits)
}

func TestProxyRelaysUpstreamStatus(t *testing.T) {
	f := &stubFetcher{err: &proxy.UpstreamError{StatusCode: http.StatusForbidden, Body: "expired"}}

	w := proxyGet(NewProxyHandler(f, zap.NewNop()), "/proxy?url=https://delivery.bfl.ai/a.png")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "expired", w.Body.String())
}

func TestProxyTransportError(t *testing.T) {
	f := &stubFetcher{err: errors.New("dial tcp: i/o timeout")}

	w := proxyGet(NewProxyHandler(f, zap.NewNop()), "/proxy?url=https://delivery.bfl.ai/a.png")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Proxy error")
}

type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestDeepHealth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	r := gin.New()
	r.GET("/health/deep", NewHealthHandler(fakePinger{}, fakeConn(true), upstream.URL).DeepHealth)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/deep", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Dependencies["generation_service"])

	r = gin.New()
	r.GET("/health/deep", NewHealthHandler(fakePinger{err: errors.New("refused")}, nil, "").DeepHealth)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/deep", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"nats":"not configured"`)
}
