package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/fallback"
	"github.com/oneiroi/api/internal/flux"
	"github.com/oneiroi/api/internal/generation"
	"github.com/oneiroi/api/internal/middleware"
	"github.com/oneiroi/api/internal/models"
	"github.com/oneiroi/api/internal/progress"
	"github.com/oneiroi/api/internal/prompt"
)

// request, downloading, complete and error events on top of one event per poll
const fixedPhaseEvents = 4

// CardGenerator runs one card generation
type CardGenerator interface {
	Generate(ctx context.Context, in generation.Input, sink progress.Sink) (models.Artifact, error)
}

// GenerationHandler handles card generation endpoints
type GenerationHandler struct {
	generator  CardGenerator
	defaultKey string
	events     progress.Sink
	sseBuffer  int
	logger     *zap.Logger
}

// NewGenerationHandler creates a new generation handler. defaultKey is used when
// the request carries no X-Key header; events receives a copy of every progress event.
// maxPolls is the poller's attempt budget and sizes the SSE event buffer.
func NewGenerationHandler(generator CardGenerator, defaultKey string, maxPolls int, events progress.Sink, logger *zap.Logger) *GenerationHandler {
	if maxPolls < 1 {
		maxPolls = 1
	}
	return &GenerationHandler{
		generator:  generator,
		defaultKey: defaultKey,
		events:     events,
		sseBuffer:  maxPolls + fixedPhaseEvents,
		logger:     logger,
	}
}

// CardRequest is the request body for generating a card
type CardRequest struct {
	Request  models.GenerationRequest `json:"request"`
	Analysis *models.DreamAnalysis    `json:"analysis,omitempty"`
	Theme    string                   `json:"theme"`
	Title    string                   `json:"title"`
	Subtitle string                   `json:"subtitle"`
	Keywords []string                 `json:"keywords"`
}

// CardResponse is the generated card
type CardResponse struct {
	InvocationID string                 `json:"invocation_id"`
	Kind         models.ArtifactKind    `json:"kind"`
	MimeType     string                 `json:"mime_type"`
	DataURL      string                 `json:"data_url"`
	Events       []models.ProgressEvent `json:"events,omitempty"`
}

// CreateCard renders a card. With Accept: text/event-stream progress is streamed as SSE.
func (h *GenerationHandler) CreateCard(c *gin.Context) {
	var req CardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondErrorWithDetails(c, http.StatusBadRequest, middleware.ErrCodeBadRequest, "Invalid request body", err.Error())
		return
	}

	in, ok := h.prepare(c, req)
	if !ok {
		return
	}

	log := h.logger.With(
		zap.String("invocation_id", in.InvocationID),
		zap.String("request_id", middleware.GetRequestID(c)),
	)
	log.Info("card generation started", zap.String("theme", req.Theme))

	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		h.stream(c, in, log)
		return
	}

	var events []models.ProgressEvent
	collect := progress.SinkFunc(func(_ context.Context, ev models.ProgressEvent) {
		events = append(events, ev)
	})

	artifact, err := h.generator.Generate(c.Request.Context(), in, progress.Tee(collect, h.events))
	if err != nil {
		h.respondGenerateError(c, err, log)
		return
	}

	log.Info("card generation finished", zap.String("kind", string(artifact.Kind)))
	c.JSON(http.StatusOK, toResponse(in.InvocationID, artifact, events))
}

// prepare resolves the credential, prompt and fallback card and validates the request
// before anything is streamed
func (h *GenerationHandler) prepare(c *gin.Context, req CardRequest) (generation.Input, bool) {
	apiKey := strings.TrimSpace(c.GetHeader(flux.KeyHeader))
	if apiKey == "" {
		apiKey = h.defaultKey
	}
	if apiKey == "" {
		middleware.RespondError(c, http.StatusBadRequest, middleware.ErrCodeNotConfigured, generation.ErrConfiguration.Error())
		return generation.Input{}, false
	}

	card := fallback.Card{Theme: req.Theme, Title: req.Title, Subtitle: req.Subtitle, Keywords: req.Keywords}
	if req.Analysis != nil {
		if strings.TrimSpace(req.Request.Prompt) == "" {
			req.Request.Prompt = prompt.BuildImagePrompt(*req.Analysis, req.Theme)
		}
		card = prompt.Card(*req.Analysis, req.Theme, req.Title, req.Subtitle)
		if len(req.Keywords) > 0 {
			card.Keywords = req.Keywords
		}
	}

	genReq := req.Request.WithDefaults()
	if err := genReq.Validate(); err != nil {
		middleware.RespondErrorWithDetails(c, http.StatusBadRequest, middleware.ErrCodeBadRequest, generation.ErrInvalidRequest.Error(), err.Error())
		return generation.Input{}, false
	}

	return generation.Input{
		InvocationID: uuid.NewString(),
		Request:      genReq,
		APIKey:       apiKey,
		Card:         card,
	}, true
}

type generateResult struct {
	artifact models.Artifact
	err      error
}

func (h *GenerationHandler) stream(c *gin.Context, in generation.Input, log *zap.Logger) {
	ctx := c.Request.Context()
	events := make(chan models.ProgressEvent, h.sseBuffer)
	done := make(chan generateResult, 1)

	go func() {
		artifact, err := h.generator.Generate(ctx, in, progress.Tee(progress.Channel(events), h.events))
		done <- generateResult{artifact: artifact, err: err}
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	for {
		select {
		case ev := <-events:
			c.SSEvent("progress", ev)
			c.Writer.Flush()
		case res := <-done:
			// events are queued before Generate returns
			for drained := false; !drained; {
				select {
				case ev := <-events:
					c.SSEvent("progress", ev)
				default:
					drained = true
				}
			}
			if res.err != nil {
				log.Error("card generation failed", zap.Error(res.err))
				c.SSEvent("error", middleware.APIError{Code: middleware.ErrCodeInternalError, Message: res.err.Error()})
			} else {
				log.Info("card generation finished", zap.String("kind", string(res.artifact.Kind)))
				c.SSEvent("artifact", toResponse(in.InvocationID, res.artifact, nil))
			}
			c.Writer.Flush()
			return
		case <-ctx.Done():
			log.Info("client went away during card generation")
			return
		}
	}
}

func (h *GenerationHandler) respondGenerateError(c *gin.Context, err error, log *zap.Logger) {
	switch {
	case errors.Is(err, generation.ErrConfiguration):
		middleware.RespondError(c, http.StatusBadRequest, middleware.ErrCodeNotConfigured, err.Error())
	case errors.Is(err, generation.ErrInvalidRequest):
		middleware.RespondErrorWithDetails(c, http.StatusBadRequest, middleware.ErrCodeBadRequest, generation.ErrInvalidRequest.Error(), err.Error())
	default:
		log.Error("card generation failed", zap.Error(err))
		middleware.InternalError(c, "Failed to generate card")
	}
}

func toResponse(invocationID string, a models.Artifact, events []models.ProgressEvent) CardResponse {
	return CardResponse{
		InvocationID: invocationID,
		Kind:         a.Kind,
		MimeType:     a.MimeType,
		DataURL:      a.DataURL(),
		Events:       events,
	}
}
