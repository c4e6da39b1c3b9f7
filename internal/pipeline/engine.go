// Package pipeline implements the staged request processing engine.
//
// Handlers are registered per phase while the server is being configured.
// Init compiles them into one flat list; each request then walks that list
// from the top, and a handler may suspend the walk (Done/Again) until an
// event on the request's loop asks the engine to run the phases again from
// where it stopped.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrRegistrySealed is returned when registering after Init
	ErrRegistrySealed = errors.New("phase handlers can no longer be registered")
	// ErrHandlerListFull is returned when a phase has no room left
	ErrHandlerListFull = errors.New("phase handler list is full")
	// ErrUnknownPhase is returned for handlers registered to an invalid phase
	ErrUnknownPhase = errors.New("unknown phase")
)

// StatusClientClosedRequest is logged for requests abandoned by the client
const StatusClientClosedRequest = 499

// Options tunes the engine
type Options struct {
	MaxHandlersPerPhase int
	BodyBufferSize      int
	MaxBodySize         int64         // zero disables the limit
	BodyReadTimeout     time.Duration // zero disables the timeout

	// ErrorPage writes the response for requests finalized with an error
	ErrorPage func(w http.ResponseWriter, status int, requestID string)
}

const (
	DefaultMaxHandlersPerPhase = 16
	DefaultBodyBufferSize      = 16 * 1024
)

type checker func(e *Engine, r *Request, ph *phaseHandler) bool

type phaseHandler struct {
	phase   Phase
	checker checker
	handler Handler
	next    int
}

// Engine runs requests through the registered phase handlers
type Engine struct {
	opts        Options
	logger      *logrus.Entry
	phases      [phaseCount][]Handler
	handlers    []phaseHandler
	initialized bool
}

// NewEngine creates an engine; handlers can be registered until Init
func NewEngine(opts Options) *Engine {
	if opts.MaxHandlersPerPhase <= 0 {
		opts.MaxHandlersPerPhase = DefaultMaxHandlersPerPhase
	}
	if opts.BodyBufferSize <= 0 {
		opts.BodyBufferSize = DefaultBodyBufferSize
	}
	if opts.ErrorPage == nil {
		opts.ErrorPage = func(w http.ResponseWriter, status int, _ string) {
			http.Error(w, http.StatusText(status), status)
		}
	}

	return &Engine{
		opts:   opts,
		logger: logrus.WithField("component", "pipeline-engine"),
	}
}

// Register appends h to the handler list of phase
func (e *Engine) Register(phase Phase, h Handler) error {
	if e.initialized {
		return ErrRegistrySealed
	}
	if phase < 0 || phase >= phaseCount {
		return fmt.Errorf("%w: %d", ErrUnknownPhase, int(phase))
	}
	if len(e.phases[phase]) >= e.opts.MaxHandlersPerPhase {
		return fmt.Errorf("%w: %s phase holds %d handlers", ErrHandlerListFull, phase, len(e.phases[phase]))
	}

	e.phases[phase] = append(e.phases[phase], h)
	return nil
}

// Init seals registration and compiles the phase handler list
func (e *Engine) Init() {
	if e.initialized {
		return
	}
	e.initialized = true

	var handlers []phaseHandler
	for phase := PhasePostRead; phase < PhaseLog; phase++ {
		var check checker
		switch phase {
		case PhaseRewrite:
			check = rewriteChecker
		case PhaseAccess:
			check = accessChecker
		case PhaseContent:
			check = contentChecker
		default:
			check = genericChecker
		}

		list := e.phases[phase]
		next := len(handlers) + len(list)
		if phase == PhaseContent {
			// trailing slot answers requests no content handler took
			next++
		}

		for _, h := range list {
			handlers = append(handlers, phaseHandler{phase: phase, checker: check, handler: h, next: next})
		}
		if phase == PhaseContent {
			handlers = append(handlers, phaseHandler{phase: phase, checker: check, next: next})
		}
	}
	e.handlers = handlers

	e.logger.WithFields(logrus.Fields{
		"post_read": len(e.phases[PhasePostRead]),
		"rewrite":   len(e.phases[PhaseRewrite]),
		"access":    len(e.phases[PhaseAccess]),
		"content":   len(e.phases[PhaseContent]),
		"log":       len(e.phases[PhaseLog]),
	}).Debug("Phase handlers initialized")
}

// Handler returns the HTTP handler serving requests matched to loc
func (e *Engine) Handler(loc *Location) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, hr *http.Request) {
		e.Serve(NewRequest(w, hr, loc))
	})
}

// Serve runs r through the phases and its event loop until it is finalized
func (e *Engine) Serve(r *Request) {
	if !e.initialized {
		e.Init()
	}
	defer close(r.done)

	e.RunPhases(r)
	e.loop(r)
}

// RunPhases walks the phase handlers starting at the request's current
// position. Handlers that suspended the request are invoked again.
func (e *Engine) RunPhases(r *Request) {
	for !r.finalized && r.phaseHandler < len(e.handlers) {
		ph := &e.handlers[r.phaseHandler]
		if ph.checker(e, r, ph) {
			return
		}
	}
}

func (e *Engine) loop(r *Request) {
	for !r.finalized {
		if !r.body.reading() {
			r.logger.Error("Request suspended without pending I/O")
			e.Finalize(r, Error)
			return
		}

		var timeout <-chan time.Time
		if r.body.timer != nil {
			timeout = r.body.timer.C
		}

		select {
		case c := <-r.body.chunks:
			e.onBodyEvent(r, c)
		case <-timeout:
			r.logger.WithField("timeout", e.opts.BodyReadTimeout).Warn("Client timed out sending request body")
			e.abandonBody(r)
			e.Finalize(r, Code(http.StatusRequestTimeout))
		case <-r.Context().Done():
			r.logger.WithError(r.Context().Err()).Info("Client closed request while it was suspended")
			e.abandonBody(r)
			e.abort(r)
		}
	}
}

// Finalize ends processing of r with rc and runs the log phase.
// Error codes produce an error page unless a response was already started.
func (e *Engine) Finalize(r *Request, rc Code) {
	if r.finalized {
		return
	}
	r.finalized = true
	r.status = rc.Status()

	if rc != OK {
		if r.writer.headerSent() {
			r.logger.WithField("code", rc.String()).Warn("Request failed after the response was started")
		} else {
			e.opts.ErrorPage(r.writer, r.status, r.id)
		}
	}

	e.runLogPhase(r)
}

func (e *Engine) abort(r *Request) {
	r.finalized = true
	r.status = StatusClientClosedRequest
	e.runLogPhase(r)
}

func (e *Engine) runLogPhase(r *Request) {
	for _, h := range e.phases[PhaseLog] {
		h(r)
	}
}

func genericChecker(e *Engine, r *Request, ph *phaseHandler) bool {
	rc := ph.handler(r)
	switch rc {
	case OK:
		r.phaseHandler = ph.next
		return false
	case Declined:
		r.phaseHandler++
		return false
	case Again, Done:
		return true
	}

	e.Finalize(r, rc)
	return true
}

func rewriteChecker(e *Engine, r *Request, ph *phaseHandler) bool {
	rc := ph.handler(r)
	switch rc {
	case Declined:
		r.phaseHandler++
		return false
	case Done:
		return true
	}

	e.Finalize(r, rc)
	return true
}

// every access handler has to let the request through
func accessChecker(e *Engine, r *Request, ph *phaseHandler) bool {
	rc := ph.handler(r)
	switch rc {
	case OK, Declined:
		r.phaseHandler++
		return false
	case Again, Done:
		return true
	}

	e.Finalize(r, rc)
	return true
}

func contentChecker(e *Engine, r *Request, ph *phaseHandler) bool {
	if content := r.location.contentHandler(); content != nil {
		e.finishContent(r, content(r))
		return true
	}

	if ph.handler == nil {
		e.Finalize(r, Code(http.StatusNotFound))
		return true
	}

	rc := ph.handler(r)
	if rc == Declined {
		r.phaseHandler++
		return false
	}

	e.finishContent(r, rc)
	return true
}

func (e *Engine) finishContent(r *Request, rc Code) {
	// Done hands finalization over to the handler
	if rc == Done {
		return
	}
	e.Finalize(r, rc)
}

func (l *Location) contentHandler() Handler {
	if l == nil {
		return nil
	}
	return l.Content
}
