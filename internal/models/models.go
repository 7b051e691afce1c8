package models

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// JobState represents the lifecycle state of a remote generation job
type JobState string

const (
	JobStateRequested JobState = "Requested"
	JobStatePending   JobState = "Pending"
	JobStateReady     JobState = "Ready"
	JobStateError     JobState = "Error"
	JobStateModerated JobState = "Moderated"
	JobStateNotFound  JobState = "NotFound"
	JobStateTimedOut  JobState = "TimedOut"
)

// Terminal reports whether no further polling happens after this state
func (s JobState) Terminal() bool {
	switch s {
	case JobStateReady, JobStateError, JobStateModerated, JobStateNotFound, JobStateTimedOut:
		return true
	}
	return false
}

// Defaults applied to a GenerationRequest before submission
const (
	DefaultAspectRatio     = "2:3"
	DefaultOutputFormat    = "png"
	DefaultSafetyTolerance = 2
)

// GenerationRequest is the immutable input of one rendering request
type GenerationRequest struct {
	Prompt           string `json:"prompt" validate:"required,max=4000"`
	AspectRatio      string `json:"aspect_ratio" validate:"required,aspect_ratio"`
	OutputFormat     string `json:"output_format" validate:"required,oneof=jpeg png"`
	SafetyTolerance  *int   `json:"safety_tolerance,omitempty" validate:"required,gte=0,lte=6"`
	Seed             *int64 `json:"seed,omitempty"`
	PromptUpsampling bool   `json:"prompt_upsampling"`
}

// WithDefaults returns a copy with empty optional fields filled in
func (r GenerationRequest) WithDefaults() GenerationRequest {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.AspectRatio == "" {
		r.AspectRatio = DefaultAspectRatio
	}
	if r.OutputFormat == "" {
		r.OutputFormat = DefaultOutputFormat
	}
	if r.SafetyTolerance == nil {
		tolerance := DefaultSafetyTolerance
		r.SafetyTolerance = &tolerance
	}
	return r
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// "W:H" with small positive integers, e.g. 2:3, 16:9, 1:1
	_ = v.RegisterValidation("aspect_ratio", func(fl validator.FieldLevel) bool {
		ws, hs, ok := strings.Cut(fl.Field().String(), ":")
		if !ok {
			return false
		}
		w, errW := strconv.Atoi(ws)
		h, errH := strconv.Atoi(hs)
		if errW != nil || errH != nil {
			return false
		}
		return w > 0 && h > 0 && w <= 21 && h <= 21
	})
	return v
}

// Validate checks the request against its struct tags
func (r GenerationRequest) Validate() error {
	return validate.Struct(r)
}

// GenerationJob tracks one server-side task for the duration of a single invocation
type GenerationJob struct {
	ID        string    `json:"id"`
	State     JobState  `json:"state"`
	Attempts  int       `json:"attempts"`
	Progress  *int      `json:"progress,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactKind distinguishes a rendered image from a synthesized placeholder
type ArtifactKind string

const (
	ArtifactKindReal     ArtifactKind = "real"
	ArtifactKindFallback ArtifactKind = "fallback"
)

// Artifact is the binary result handed back to the caller
type Artifact struct {
	Kind     ArtifactKind `json:"kind"`
	Bytes    []byte       `json:"-"`
	MimeType string       `json:"mime_type"`
}

// IsFallback reports whether the artifact is a locally synthesized placeholder
func (a Artifact) IsFallback() bool {
	return a.Kind == ArtifactKindFallback
}

// DataURL returns the embeddable base64 data URL of the artifact
func (a Artifact) DataURL() string {
	return "data:" + a.MimeType + ";base64," + base64.StdEncoding.EncodeToString(a.Bytes)
}

// Phase is the pipeline stage a ProgressEvent belongs to
type Phase string

const (
	PhaseRequest     Phase = "request"
	PhasePolling     Phase = "polling"
	PhaseDownloading Phase = "downloading"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
)

// ProgressEvent is a transient progress notification
type ProgressEvent struct {
	InvocationID string    `json:"invocation_id"`
	Phase        Phase     `json:"phase"`
	Message      string    `json:"message"`
	Percent      int       `json:"percent"`
	Timestamp    time.Time `json:"timestamp"`
}

// DreamAnalysis is the language model's reading of a journal entry
type DreamAnalysis struct {
	Analysis              string    `json:"analysis"`
	JungianInterpretation string    `json:"jungianInterpretation,omitempty"`
	Symbols               []string  `json:"symbols"`
	Archetypes            []string  `json:"archetypes"`
	Emotions              []string  `json:"emotions"`
	Suggestions           []string  `json:"suggestions,omitempty"`
	TarotCard             TarotCard `json:"tarotCard"`
}

// TarotCard holds the suggested card naming
type TarotCard struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}
