// Package accesslog writes one log entry per finished location request.
package accesslog

import (
	"fmt"

	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/sirupsen/logrus"
)

// Module identifies the access log configuration of a location
var Module = pipeline.NewModule("access_log")

// LocationConf lists the variables added to each entry
type LocationConf struct {
	Variables []string
}

// Handler is the log phase handler
type Handler struct {
	logger *logrus.Entry
}

// NewHandler creates an access logger writing to logger
func NewHandler(logger *logrus.Entry) *Handler {
	return &Handler{logger: logger}
}

// Register installs h into the log phase
func Register(reg pipeline.Registrar, h *Handler) error {
	if err := reg.Register(pipeline.PhaseLog, h.Handle); err != nil {
		return fmt.Errorf("failed to register %s log phase handler: %w", Module.Name(), err)
	}
	return nil
}

// Handle logs r
func (h *Handler) Handle(r *pipeline.Request) pipeline.Code {
	fields := logrus.Fields{
		"request_id":  r.ID(),
		"method":      r.Method(),
		"path":        r.HTTP.URL.Path,
		"status":      r.Status(),
		"remote_addr": r.HTTP.RemoteAddr,
		"user_agent":  r.HTTP.UserAgent(),
	}

	if loc := r.Location(); loc != nil {
		fields["location"] = loc.Name
	}
	if body := r.Body(); body != nil {
		fields["body_bytes"] = body.Len()
	}

	if conf, ok := r.Location().Conf(Module).(*LocationConf); ok {
		for _, name := range conf.Variables {
			if value, found := r.Var(name); found {
				fields["var_"+name] = value
			}
		}
	}

	entry := h.logger.WithFields(fields)
	switch status := r.Status(); {
	case status >= 500 && status != pipeline.StatusClientClosedRequest:
		entry.Warn("Request failed")
	default:
		entry.Info("Request completed")
	}

	return pipeline.OK
}
