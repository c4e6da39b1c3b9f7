package pipeline

import (
	"context"
	"net/http"
	"strconv"

	"github.com/guided-traffic/json-post-proxy/internal/requestid"
	"github.com/sirupsen/logrus"
)

// Request is one HTTP exchange travelling through the phases.
// It is owned by the goroutine serving it; handlers and body callbacks are
// only ever invoked from that goroutine.
type Request struct {
	HTTP *http.Request

	writer   *responseWriter
	location *Location
	id       string
	logger   *logrus.Entry
	vars     *Variables
	ctx      map[*Module]any
	body     *RequestBody

	phaseHandler int
	finalized    bool
	status       int

	done chan struct{}
}

// NewRequest wraps an incoming HTTP request for the given location
func NewRequest(w http.ResponseWriter, hr *http.Request, loc *Location) *Request {
	id := requestid.FromContext(hr.Context())
	if id == "" {
		id = requestid.New()
	}

	return &Request{
		HTTP:     hr,
		writer:   &responseWriter{ResponseWriter: w},
		location: loc,
		id:       id,
		logger: logrus.WithFields(logrus.Fields{
			"component":  "pipeline",
			"request_id": id,
		}),
		vars: newVariables(),
		ctx:  make(map[*Module]any),
		done: make(chan struct{}),
	}
}

// ID returns the request identifier
func (r *Request) ID() string {
	return r.id
}

// Method returns the HTTP method
func (r *Request) Method() string {
	return r.HTTP.Method
}

// Context returns the context of the underlying HTTP request
func (r *Request) Context() context.Context {
	return r.HTTP.Context()
}

// Location returns the location the request was matched to
func (r *Request) Location() *Location {
	return r.location
}

// Logger returns the request scoped logger
func (r *Request) Logger() *logrus.Entry {
	return r.logger
}

// Writer returns the response writer
func (r *Request) Writer() http.ResponseWriter {
	return r.writer
}

// Ctx returns the per-request state of module m, or nil
func (r *Request) Ctx(m *Module) any {
	return r.ctx[m]
}

// SetCtx attaches per-request state for module m.
// The state lives exactly as long as the request.
func (r *Request) SetCtx(m *Module, v any) {
	r.ctx[m] = v
}

// Body returns the request body once reading has started, or nil
func (r *Request) Body() *RequestBody {
	return r.body
}

// Vars returns the variables bound to this request
func (r *Request) Vars() *Variables {
	return r.vars
}

// builtinNames lists the variables Var resolves from the request itself
var builtinNames = []string{
	"request_id", "request_method", "request_uri", "uri", "args", "remote_addr",
	"host", "content_type", "content_length", "request_body", "status",
}

// BuiltinNames returns the names of the builtin variables
func BuiltinNames() []string {
	return append([]string(nil), builtinNames...)
}

// Var resolves a variable, falling back to the builtin ones
func (r *Request) Var(name string) (string, bool) {
	if v, ok := r.vars.Get(name); ok {
		return v, true
	}

	switch name {
	case "request_id":
		return r.id, true
	case "request_method":
		return r.HTTP.Method, true
	case "request_uri":
		return r.HTTP.RequestURI, true
	case "uri":
		return r.HTTP.URL.Path, true
	case "args":
		return r.HTTP.URL.RawQuery, true
	case "remote_addr":
		return r.HTTP.RemoteAddr, true
	case "host":
		return r.HTTP.Host, true
	case "content_type":
		return r.HTTP.Header.Get("Content-Type"), true
	case "content_length":
		if r.HTTP.ContentLength < 0 {
			return "", true
		}
		return strconv.FormatInt(r.HTTP.ContentLength, 10), true
	case "request_body":
		if r.body == nil || !r.body.complete {
			return "", true
		}
		return string(r.body.buf), true
	case "status":
		return strconv.Itoa(r.Status()), true
	}

	return "", false
}

// Expand replaces variable references in tmpl
func (r *Request) Expand(tmpl string) string {
	return Expand(tmpl, r.Var)
}

// Status returns the response status, zero until a response was started
func (r *Request) Status() int {
	if r.writer.status != 0 {
		return r.writer.status
	}
	return r.status
}

// Finalized reports whether processing of the request has ended
func (r *Request) Finalized() bool {
	return r.finalized
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) headerSent() bool {
	return rw.status != 0
}
