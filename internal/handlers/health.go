package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	serviceName    = "oneiroi-api"
	serviceVersion = "0.1.0"
)

// Pinger is implemented by database.Redis
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionStatus is implemented by *nats.Conn
type ConnectionStatus interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	redis         Pinger
	nats          ConnectionStatus
	generationURL string
	client        *http.Client
}

// NewHealthHandler creates a new health handler. Nil dependencies are reported as not configured.
func NewHealthHandler(redis Pinger, nats ConnectionStatus, generationURL string) *HealthHandler {
	return &HealthHandler{
		redis:         redis,
		nats:          nats,
		generationURL: generationURL,
		client:        &http.Client{Timeout: 3 * time.Second},
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health returns basic health status
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// DeepHealth returns health status with dependency checks
func (h *HealthHandler) DeepHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	deps := make(map[string]string)
	allHealthy := true

	// Check Redis
	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			deps["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			deps["redis"] = "healthy"
		}
	} else {
		deps["redis"] = "not configured"
	}

	// Check NATS
	if h.nats != nil {
		if h.nats.IsConnected() {
			deps["nats"] = "healthy"
		} else {
			deps["nats"] = "unhealthy: disconnected"
			allHealthy = false
		}
	} else {
		deps["nats"] = "not configured"
	}

	// Check generation service
	if h.generationURL != "" {
		if h.checkGenerationService(ctx) {
			deps["generation_service"] = "healthy"
		} else {
			deps["generation_service"] = "unreachable"
			allHealthy = false
		}
	} else {
		deps["generation_service"] = "not configured"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:       status,
		Service:      serviceName,
		Version:      serviceVersion,
		Dependencies: deps,
	})
}

// checkGenerationService treats any non-5xx answer as reachable; the API root
// needs a key and usually answers 401 or 404
func (h *HealthHandler) checkGenerationService(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.generationURL, nil)
	if err != nil {
		return false
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}
