// Package jsonpost acquires POST bodies without blocking the phase engine.
//
// The coordinator sits in the rewrite phase. For a POST it starts reading the
// body; if the body is not available at once it suspends the phases and
// resumes them, exactly once, when the read completes. Handlers placed after
// it in the same or a later phase therefore always see a complete body.
package jsonpost

import (
	"net/http"

	"github.com/guided-traffic/json-post-proxy/internal/monitoring"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/sirupsen/logrus"
)

// Module identifies the coordinator's per-request state
var Module = pipeline.NewModule("json_post")

// Host is what the coordinator needs from the phase engine
type Host interface {
	ReadRequestBody(r *pipeline.Request, post pipeline.BodyHandler) pipeline.Code
	RunPhases(r *pipeline.Request)
}

// State tracks body acquisition for one request.
// AwaitingBody implies !Completed.
type State struct {
	Completed    bool
	AwaitingBody bool
}

// StateOf returns the coordinator state attached to r, or nil
func StateOf(r *pipeline.Request) *State {
	st, _ := r.Ctx(Module).(*State)
	return st
}

// Coordinator drives the body read for POST requests
type Coordinator struct {
	host   Host
	logger *logrus.Entry
}

// NewCoordinator creates a coordinator bound to host
func NewCoordinator(host Host, logger *logrus.Entry) *Coordinator {
	return &Coordinator{
		host:   host,
		logger: logger.WithField("module", Module.Name()),
	}
}

// Handle is the rewrite phase entry point
func (c *Coordinator) Handle(r *pipeline.Request) pipeline.Code {
	log := c.logger.WithField("request_id", r.ID())
	log.Debug("Rewrite phase handler")

	if st := StateOf(r); st != nil {
		if st.Completed {
			log.Debug("Request body already acquired")
			monitoring.RecordBodyAcquisition(monitoring.OutcomeDeclined)
			return pipeline.Declined
		}

		// a suspension is still active, keep waiting for the callback
		return pipeline.Done
	}

	if r.Method() != http.MethodPost {
		monitoring.RecordBodyAcquisition(monitoring.OutcomeDeclined)
		return pipeline.Declined
	}

	st := &State{}
	r.SetCtx(Module, st)

	log.Debug("Start reading client request body")

	rc := c.host.ReadRequestBody(r, c.bodyRead)

	if rc == pipeline.Error || rc.IsSpecialResponse() {
		log.WithField("code", rc.String()).Debug("Reading request body failed")
		monitoring.RecordBodyAcquisition(monitoring.OutcomeError)
		return rc
	}

	if rc == pipeline.Again && !st.Completed {
		st.AwaitingBody = true
		monitoring.RecordBodyAcquisition(monitoring.OutcomeSuspended)
		return pipeline.Done
	}

	log.Debug("Read the request body in one run")
	monitoring.RecordBodyAcquisition(monitoring.OutcomeImmediate)
	return pipeline.Declined
}

// bodyRead is called by the host once the whole body has been received
func (c *Coordinator) bodyRead(r *pipeline.Request) {
	log := c.logger.WithField("request_id", r.ID())

	st := StateOf(r)
	if st == nil {
		log.Error("Request body callback without coordinator state")
		return
	}

	st.Completed = true
	if body := r.Body(); body != nil {
		monitoring.RecordBodyBytes(body.Len())
	}

	if !st.AwaitingBody {
		log.Debug("Request body read without suspending")
		return
	}

	st.AwaitingBody = false
	log.Debug("Request body complete, resuming phases")
	monitoring.RecordBodyResume()
	c.host.RunPhases(r)
}
