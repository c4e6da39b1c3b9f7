package pipeline

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RequestBody accumulates the request body across read events
type RequestBody struct {
	buf      []byte
	expected int64
	events   int
	complete bool
	active   bool
	post     BodyHandler
	timer    *time.Timer
	chunks   chan bodyChunk
}

// Bytes returns the body received so far
func (b *RequestBody) Bytes() []byte {
	return b.buf
}

// Len returns the number of body bytes received so far
func (b *RequestBody) Len() int {
	return len(b.buf)
}

// Complete reports whether the whole body has been received
func (b *RequestBody) Complete() bool {
	return b != nil && b.complete
}

// Events returns how many read events delivered body data
func (b *RequestBody) Events() int {
	return b.events
}

func (b *RequestBody) reading() bool {
	return b != nil && b.active
}

func (b *RequestBody) stop() {
	if b == nil {
		return
	}
	b.active = false
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// consume appends one read result. It reports whether the body is complete,
// or a non-OK code when the read failed for good.
func (b *RequestBody) consume(chunk []byte, err error, limit int64) (bool, Code) {
	b.events++

	if limit > 0 && int64(len(b.buf)+len(chunk)) > limit {
		return false, Code(http.StatusRequestEntityTooLarge)
	}
	b.buf = append(b.buf, chunk...)

	if err != nil && !errors.Is(err, io.EOF) {
		return false, Code(http.StatusBadRequest)
	}

	if b.expected >= 0 && int64(len(b.buf)) >= b.expected {
		return true, OK
	}

	if err != nil {
		if b.expected >= 0 {
			// connection ended before Content-Length bytes arrived
			return false, Code(http.StatusBadRequest)
		}
		return true, OK
	}

	return false, OK
}

// ReadRequestBody starts reading the body of r and calls post once all of it
// has been received.
//
// OK means the body was complete with the first read event and post has
// already run. Again means more data is on its way: the rest is read in the
// background and post runs later on the request's loop. Any other code is a
// failure the caller should finalize the request with. The first read is
// bounded by the body read timeout and the client's context like every
// later one.
func (e *Engine) ReadRequestBody(r *Request, post BodyHandler) Code {
	if r.body != nil {
		if r.body.complete {
			post(r)
			return OK
		}
		r.logger.Error("Request body is already being read")
		return Error
	}

	hr := r.HTTP
	if e.opts.MaxBodySize > 0 && hr.ContentLength > e.opts.MaxBodySize {
		r.logger.WithFields(logrus.Fields{
			"content_length": hr.ContentLength,
			"max_body_size":  e.opts.MaxBodySize,
		}).Warn("Client intended to send too large body")
		return Code(http.StatusRequestEntityTooLarge)
	}

	b := &RequestBody{expected: hr.ContentLength, post: post}
	r.body = b

	if hr.Body == nil || hr.Body == http.NoBody || hr.ContentLength == 0 {
		e.completeBody(r)
		return OK
	}

	b.active = true
	b.chunks = make(chan bodyChunk)
	if e.opts.BodyReadTimeout > 0 {
		b.timer = time.NewTimer(e.opts.BodyReadTimeout)
	}
	go e.pumpBody(r, b, hr.Body)

	var timeout <-chan time.Time
	if b.timer != nil {
		timeout = b.timer.C
	}

	// the first event usually carries what arrived together with the headers
	select {
	case c := <-b.chunks:
		done, rc := b.consume(c.data, c.err, e.opts.MaxBodySize)
		if rc != OK {
			r.logger.WithError(c.err).WithField("code", rc.String()).Warn("Failed to read request body")
			e.abandonBody(r)
			return rc
		}
		if done {
			b.stop()
			e.completeBody(r)
			return OK
		}
		if b.timer != nil {
			b.timer.Reset(e.opts.BodyReadTimeout)
		}
		return Again

	case <-timeout:
		r.logger.WithField("timeout", e.opts.BodyReadTimeout).Warn("Client timed out sending request body")
		e.abandonBody(r)
		return Code(http.StatusRequestTimeout)

	case <-r.Context().Done():
		r.logger.WithError(r.Context().Err()).Info("Client closed request before sending its body")
		e.abandonBody(r)
		return Code(StatusClientClosedRequest)
	}
}

// bodyChunk is one read result handed from the pump to the request's loop
type bodyChunk struct {
	data []byte
	err  error
}

// pumpBody reads the body off the request goroutine and hands every read
// result to the request's loop. It never touches request state.
func (e *Engine) pumpBody(r *Request, b *RequestBody, body io.Reader) {
	remaining := b.expected
	buf := make([]byte, e.opts.BodyBufferSize)
	for {
		n, err := body.Read(buf)
		if n == 0 && err == nil {
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		select {
		case b.chunks <- bodyChunk{data: chunk, err: err}:
		case <-r.done:
			return
		}
		if err != nil {
			return
		}

		if remaining >= 0 {
			remaining -= int64(n)
			if remaining <= 0 {
				return
			}
		}
	}
}

func (e *Engine) onBodyEvent(r *Request, c bodyChunk) {
	b := r.body
	if !b.reading() {
		return
	}

	done, rc := b.consume(c.data, c.err, e.opts.MaxBodySize)
	if rc != OK {
		r.logger.WithError(c.err).WithFields(logrus.Fields{
			"code":     rc.String(),
			"received": len(b.buf),
		}).Warn("Failed to read request body")
		e.abandonBody(r)
		e.Finalize(r, rc)
		return
	}

	if !done {
		if b.timer != nil {
			b.timer.Reset(e.opts.BodyReadTimeout)
		}
		return
	}

	b.stop()
	e.completeBody(r)
}

// abandonBody stops waiting for body data and expires the connection's read
// deadline, so a pump blocked in Read returns and the server does not wait on
// the unread rest of the body before answering.
func (e *Engine) abandonBody(r *Request) {
	r.body.stop()

	err := http.NewResponseController(r.writer).SetReadDeadline(time.Now())
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		r.logger.WithError(err).Debug("Failed to interrupt request body read")
	}
}

func (e *Engine) completeBody(r *Request) {
	b := r.body
	b.complete = true

	// content handlers read the buffered copy
	r.HTTP.Body = io.NopCloser(bytes.NewReader(b.buf))
	r.HTTP.ContentLength = int64(len(b.buf))

	r.logger.WithFields(logrus.Fields{
		"bytes":  len(b.buf),
		"events": b.events,
	}).Debug("Request body received")

	post := b.post
	b.post = nil
	if post != nil {
		post(r)
	}
}
