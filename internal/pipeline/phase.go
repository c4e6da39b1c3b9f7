package pipeline

import (
	"fmt"
	"net/http"
)

// Phase identifies one stage of request processing
type Phase int

const (
	PhasePostRead Phase = iota
	PhaseRewrite
	PhaseAccess
	PhaseContent
	PhaseLog

	phaseCount
)

var phaseNames = [...]string{
	PhasePostRead: "post-read",
	PhaseRewrite:  "rewrite",
	PhaseAccess:   "access",
	PhaseContent:  "content",
	PhaseLog:      "log",
}

func (p Phase) String() string {
	if p < 0 || p >= phaseCount {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Code is what a phase handler reports back to the engine.
// Values of SpecialResponse and above are HTTP status codes the request is
// finalized with.
type Code int

const (
	OK       Code = 0
	Error    Code = -1
	Again    Code = -2
	Done     Code = -4
	Declined Code = -5

	SpecialResponse Code = 300
)

// IsSpecialResponse reports whether c carries an HTTP status
func (c Code) IsSpecialResponse() bool {
	return c >= SpecialResponse
}

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Error:
		return "error"
	case Again:
		return "again"
	case Done:
		return "done"
	case Declined:
		return "declined"
	}
	if c.IsSpecialResponse() {
		return fmt.Sprintf("status %d", int(c))
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Status converts c to the HTTP status the request is finalized with.
func (c Code) Status() int {
	switch {
	case c.IsSpecialResponse():
		return int(c)
	case c == OK:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Handler processes a request within one phase
type Handler func(r *Request) Code

// BodyHandler is called once the whole request body has been received
type BodyHandler func(r *Request)

// Registrar accepts phase handlers at configuration time
type Registrar interface {
	Register(phase Phase, h Handler) error
}
