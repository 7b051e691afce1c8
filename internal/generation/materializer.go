package generation

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/models"
	"github.com/oneiroi/api/internal/proxy"
)

// Materializer turns an ephemeral result URL into artifact bytes
type Materializer struct {
	allow   *proxy.AllowList
	fetcher proxy.Fetcher
	logger  *zap.Logger
}

// NewMaterializer creates a Materializer. The allow-list is checked before the fetcher is called.
func NewMaterializer(allow *proxy.AllowList, fetcher proxy.Fetcher, logger *zap.Logger) *Materializer {
	return &Materializer{allow: allow, fetcher: fetcher, logger: logger}
}

// Materialize fetches sampleURL and returns a real artifact
func (m *Materializer) Materialize(ctx context.Context, sampleURL string) (models.Artifact, error) {
	u, err := m.allow.Validate(sampleURL)
	if err != nil {
		if errors.Is(err, ErrUntrustedSource) {
			return models.Artifact{}, err
		}
		return models.Artifact{}, fmt.Errorf("%w: %w", ErrDownload, err)
	}

	payload, err := m.fetcher.Fetch(ctx, sampleURL)
	if err != nil {
		if errors.Is(err, ErrUntrustedSource) {
			return models.Artifact{}, err
		}
		return models.Artifact{}, fmt.Errorf("%w: %w", ErrDownload, err)
	}

	mimeType, err := imageType(payload)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("%w: %w", ErrDownload, err)
	}

	m.logger.Info("artifact downloaded",
		zap.String("host", u.Hostname()),
		zap.String("mime_type", mimeType),
		zap.Int("size_bytes", len(payload.Body)),
	)
	return models.Artifact{
		Kind:     models.ArtifactKindReal,
		Bytes:    payload.Body,
		MimeType: mimeType,
	}, nil
}

// imageType prefers the declared image content type and falls back to sniffing.
// A body that does not sniff as an image is rejected either way.
func imageType(p *proxy.Payload) (string, error) {
	if len(p.Body) == 0 {
		return "", errors.New("empty body")
	}
	detected := mimetype.Detect(p.Body)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", fmt.Errorf("body is %s, not an image", detected.String())
	}

	if declared, _, err := mime.ParseMediaType(p.ContentType); err == nil && strings.HasPrefix(declared, "image/") {
		return declared, nil
	}
	return detected.String(), nil
}
