// Package respond answers requests with a configured status and body template.
package respond

import (
	"net/http"
	"time"

	"github.com/guided-traffic/json-post-proxy/internal/config"
	"github.com/guided-traffic/json-post-proxy/internal/monitoring"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/sirupsen/logrus"
)

// Handler implements the return content handler
type Handler struct {
	status      int
	body        string
	contentType string
	logger      *logrus.Entry
}

// NewHandler creates a return handler
func NewHandler(cfg *config.ReturnConfig, logger *logrus.Entry) *Handler {
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}

	return &Handler{
		status:      cfg.Status,
		body:        cfg.Body,
		contentType: contentType,
		logger:      logger.WithField("handler", config.ContentReturn),
	}
}

// Handle writes the expanded body. An error status without a body is answered
// with the regular error page.
func (h *Handler) Handle(r *pipeline.Request) pipeline.Code {
	start := time.Now()

	if h.body == "" && h.status >= http.StatusBadRequest {
		monitoring.RecordContentOperation(config.ContentReturn, "error_page", time.Since(start))
		return pipeline.Code(h.status)
	}

	body := r.Expand(h.body)

	w := r.Writer()
	if body != "" {
		w.Header().Set("Content-Type", h.contentType)
	}
	w.WriteHeader(h.status)

	if _, err := w.Write([]byte(body)); err != nil {
		h.logger.WithError(err).WithField("request_id", r.ID()).Error("Failed to write response")
		monitoring.RecordContentOperation(config.ContentReturn, "error", time.Since(start))
		return pipeline.OK
	}

	monitoring.RecordContentOperation(config.ContentReturn, "success", time.Since(start))
	return pipeline.OK
}
