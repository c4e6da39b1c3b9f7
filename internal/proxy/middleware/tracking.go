package middleware

import (
	"net/http"

	"github.com/guided-traffic/json-post-proxy/internal/requestid"
	"github.com/sirupsen/logrus"
)

// RequestTracker assigns request ids and tracks active requests for graceful shutdown
type RequestTracker struct {
	logger              *logrus.Entry
	requestStartHandler func()
	requestEndHandler   func()
}

// NewRequestTracker creates a new request tracker middleware
func NewRequestTracker(logger *logrus.Entry) *RequestTracker {
	return &RequestTracker{
		logger: logger,
	}
}

// SetHandlers sets the start and end handlers for request tracking
func (rt *RequestTracker) SetHandlers(onStart, onEnd func()) {
	rt.requestStartHandler = onStart
	rt.requestEndHandler = onEnd
}

// Middleware returns the HTTP middleware function. A request id sent by the
// client is kept if it is reasonably short.
func (rt *RequestTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.requestStartHandler != nil {
			rt.requestStartHandler()
		}

		defer func() {
			if rt.requestEndHandler != nil {
				rt.requestEndHandler()
			}
		}()

		id := r.Header.Get(requestid.Header)
		if id == "" || len(id) > 128 {
			id = requestid.New()
		}
		w.Header().Set(requestid.Header, id)

		next.ServeHTTP(w, r.WithContext(requestid.WithID(r.Context(), id)))
	})
}
