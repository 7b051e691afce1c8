package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/metrics"
	"github.com/oneiroi/api/internal/middleware"
	"github.com/oneiroi/api/internal/proxy"
)

// ProxyHandler serves artifact bytes from allow-listed delivery hosts under the API's origin
type ProxyHandler struct {
	fetcher proxy.Fetcher
	logger  *zap.Logger
}

// NewProxyHandler creates a new proxy handler
func NewProxyHandler(fetcher proxy.Fetcher, logger *zap.Logger) *ProxyHandler {
	return &ProxyHandler{fetcher: fetcher, logger: logger}
}

// Proxy fetches ?url= and relays the body with the upstream content type
func (h *ProxyHandler) Proxy(c *gin.Context) {
	raw := c.Query("url")
	if raw == "" {
		metrics.ObserveProxy("rejected")
		middleware.BadRequest(c, "Missing url parameter")
		return
	}

	payload, err := h.fetcher.Fetch(c.Request.Context(), raw)
	if err != nil {
		h.respondFetchError(c, err)
		return
	}

	metrics.ObserveProxy("ok")
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, payload.ContentType, payload.Body)
}

func (h *ProxyHandler) respondFetchError(c *gin.Context, err error) {
	var upstream *proxy.UpstreamError
	switch {
	case errors.Is(err, proxy.ErrHostNotAllowed):
		metrics.ObserveProxy("rejected")
		h.logger.Warn("proxy host rejected", zap.Error(err))
		middleware.RespondError(c, http.StatusBadRequest, middleware.ErrCodeHostNotAllowed, "Invalid host for image proxy")
	case errors.Is(err, proxy.ErrInvalidURL):
		metrics.ObserveProxy("rejected")
		middleware.RespondErrorWithDetails(c, http.StatusBadRequest, middleware.ErrCodeBadRequest, "Invalid url parameter", err.Error())
	case errors.As(err, &upstream):
		metrics.ObserveProxy("upstream_error")
		c.String(upstream.StatusCode, upstream.Body)
	case errors.Is(err, proxy.ErrTooLarge):
		metrics.ObserveProxy("error")
		middleware.RespondError(c, http.StatusBadGateway, middleware.ErrCodeUpstreamError, "Image exceeds the proxy size limit")
	default:
		metrics.ObserveProxy("error")
		h.logger.Error("proxy fetch failed", zap.Error(err))
		middleware.RespondErrorWithDetails(c, http.StatusInternalServerError, middleware.ErrCodeInternalError, "Proxy error", err.Error())
	}
}
