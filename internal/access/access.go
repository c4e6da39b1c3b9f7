// Package access implements per-location client authentication in the
// access phase.
package access

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/guided-traffic/json-post-proxy/internal/monitoring"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/sirupsen/logrus"
)

// Module identifies the authenticator configured for a location
var Module = pipeline.NewModule("access")

// Failure reasons reported in metrics and logs
const (
	ReasonMissingCredentials = "missing_credentials"
	ReasonInvalidToken       = "invalid_token"
	ReasonExpiredToken       = "expired_token"
	ReasonUnknownUser        = "unknown_user"
	ReasonBadPassword        = "bad_password"
)

// Failure is returned by authenticators that rejected a request
type Failure struct {
	Reason    string
	Challenge string // WWW-Authenticate value
	Err       error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return f.Reason
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Authenticator verifies the credentials of a request
type Authenticator interface {
	Type() string
	Authenticate(r *pipeline.Request) error
}

// Handler runs the location's authenticator in the access phase
type Handler struct {
	logger *logrus.Entry
}

// NewHandler creates the access phase handler
func NewHandler(logger *logrus.Entry) *Handler {
	return &Handler{logger: logger.WithField("module", Module.Name())}
}

// Register installs h into the access phase
func Register(reg pipeline.Registrar, h *Handler) error {
	if err := reg.Register(pipeline.PhaseAccess, h.Handle); err != nil {
		return fmt.Errorf("failed to register %s access phase handler: %w", Module.Name(), err)
	}
	return nil
}

// Handle lets the request through or answers 401
func (h *Handler) Handle(r *pipeline.Request) pipeline.Code {
	auth, _ := r.Location().Conf(Module).(Authenticator)
	if auth == nil {
		return pipeline.Declined
	}

	err := auth.Authenticate(r)
	if err == nil {
		return pipeline.OK
	}

	var failure *Failure
	if !errors.As(err, &failure) {
		h.logger.WithError(err).WithField("request_id", r.ID()).Error("Authentication failed unexpectedly")
		return pipeline.Error
	}

	monitoring.RecordAuthFailure(auth.Type(), failure.Reason)
	h.logger.WithFields(logrus.Fields{
		"request_id": r.ID(),
		"location":   r.Location().Name,
		"auth_type":  auth.Type(),
		"reason":     failure.Reason,
		"remote":     r.HTTP.RemoteAddr,
	}).Warn("Client authentication failed")

	if failure.Challenge != "" {
		r.Writer().Header().Set("WWW-Authenticate", failure.Challenge)
	}
	return pipeline.Code(http.StatusUnauthorized)
}
