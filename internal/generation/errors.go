package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oneiroi/api/internal/proxy"
)

// Errors returned by the generation pipeline. Only ErrConfiguration and
// ErrInvalidRequest reach callers of Orchestrator.Generate; the rest are
// converted into a fallback artifact.
var (
	// ErrConfiguration is returned when no credential is available. No network call is made.
	ErrConfiguration = errors.New("generation API key not configured")

	// ErrInvalidRequest is returned when the request fails local validation
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrUpstream is returned when a submission or status HTTP call fails
	ErrUpstream = errors.New("generation service request failed")

	// ErrGeneration is returned when the job ends in the Error state
	ErrGeneration = errors.New("image generation failed")

	// ErrPolicy is returned when the request or content was moderated
	ErrPolicy = errors.New("image generation was blocked due to content policy")

	// ErrJobLost is returned when the service no longer knows the job
	ErrJobLost = errors.New("generation task not found")

	// ErrTimeout is returned when the attempt budget runs out while the job is pending
	ErrTimeout = errors.New("image generation timed out")

	// ErrUntrustedSource is returned when the result URL host is not allow-listed
	ErrUntrustedSource = proxy.ErrHostNotAllowed

	// ErrDownload is returned when the artifact cannot be fetched or decoded
	ErrDownload = errors.New("failed to download generated image")
)

// UpstreamFailure carries the details of a job that ended in the Error state
type UpstreamFailure struct {
	JobID   string
	Details json.RawMessage
}

func (e *UpstreamFailure) Error() string {
	if len(e.Details) == 0 || string(e.Details) == "null" {
		return fmt.Sprintf("%v: job %s", ErrGeneration, e.JobID)
	}
	return fmt.Sprintf("%v: job %s: %s", ErrGeneration, e.JobID, e.Details)
}

func (e *UpstreamFailure) Unwrap() error {
	return ErrGeneration
}

// Reason maps an error to a short label for metrics and logs
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrPolicy):
		return "policy"
	case errors.Is(err, ErrJobLost):
		return "job_lost"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrGeneration):
		return "generation"
	case errors.Is(err, ErrUntrustedSource):
		return "untrusted_source"
	case errors.Is(err, ErrDownload):
		return "download"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "unknown"
	}
}
