package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bodyReader registers a rewrite handler that reads the body and resumes the
// phases from its callback, plus a content handler echoing the body.
type bodyReader struct {
	engine    *Engine
	readCodes []Code
	callbacks int
	resumed   int
	suspended bool
}

func newBodyReaderEngine(t *testing.T, opts Options) (*Engine, *bodyReader, *Location) {
	t.Helper()

	e := NewEngine(opts)
	br := &bodyReader{engine: e}

	require.NoError(t, e.Register(PhaseRewrite, br.handle))

	loc := NewLocation("/")
	loc.Content = func(r *Request) Code {
		data, err := io.ReadAll(r.HTTP.Body)
		if err != nil {
			return Error
		}
		r.Writer().WriteHeader(http.StatusOK)
		_, _ = r.Writer().Write(data)
		return OK
	}

	return e, br, loc
}

func (b *bodyReader) handle(r *Request) Code {
	if r.Body().Complete() {
		return Declined
	}
	if b.suspended {
		return Done
	}

	rc := b.engine.ReadRequestBody(r, func(r *Request) {
		b.callbacks++
		if b.suspended {
			b.resumed++
			b.engine.RunPhases(r)
		}
	})
	b.readCodes = append(b.readCodes, rc)

	switch {
	case rc == Again:
		b.suspended = true
		return Done
	case rc == OK:
		return Declined
	}
	return rc
}

func writeChunks(t *testing.T, pw *io.PipeWriter, chunks ...string) {
	t.Helper()
	go func() {
		for _, c := range chunks {
			if _, err := pw.Write([]byte(c)); err != nil {
				return
			}
		}
	}()
}

func TestReadRequestBody_Synchronous(t *testing.T) {
	e, br, loc := newBodyReaderEngine(t, Options{})

	hr := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	w, r := serve(e, loc, hr)

	assert.Equal(t, []Code{OK}, br.readCodes)
	assert.Equal(t, 1, br.callbacks)
	assert.Equal(t, 0, br.resumed)
	assert.Equal(t, `{"a":1}`, w.Body.String())
	assert.Equal(t, 1, r.Body().Events())
}

func TestReadRequestBody_EmptyBody(t *testing.T) {
	e, br, loc := newBodyReaderEngine(t, Options{})

	w, r := serve(e, loc, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, []Code{OK}, br.readCodes)
	assert.Equal(t, 1, br.callbacks)
	assert.True(t, r.Body().Complete())
	assert.Equal(t, 0, r.Body().Len())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadRequestBody_SeveralEvents(t *testing.T) {
	e, br, loc := newBodyReaderEngine(t, Options{})

	pr, pw := io.Pipe()
	defer pr.Close()

	hr := httptest.NewRequest(http.MethodPost, "/", pr)
	hr.ContentLength = int64(len(`{"a":` + `"bc"` + `}`))
	writeChunks(t, pw, `{"a":`, `"bc"`, `}`)

	w, r := serve(e, loc, hr)

	assert.Equal(t, []Code{Again}, br.readCodes)
	assert.Equal(t, 1, br.callbacks)
	assert.Equal(t, 1, br.resumed)
	assert.Equal(t, 3, r.Body().Events())
	assert.Equal(t, `{"a":"bc"}`, w.Body.String())
}

func TestReadRequestBody_ChunkedUntilEOF(t *testing.T) {
	e, br, loc := newBodyReaderEngine(t, Options{})

	pr, pw := io.Pipe()
	hr := httptest.NewRequest(http.MethodPost, "/", pr)
	hr.ContentLength = -1

	go func() {
		_, _ = pw.Write([]byte("one,"))
		_, _ = pw.Write([]byte("two"))
		_ = pw.Close()
	}()

	w, _ := serve(e, loc, hr)

	assert.Equal(t, []Code{Again}, br.readCodes)
	assert.Equal(t, 1, br.resumed)
	assert.Equal(t, "one,two", w.Body.String())
}

func TestReadRequestBody_DeclaredTooLarge(t *testing.T) {
	e, br, loc := newBodyReaderEngine(t, Options{MaxBodySize: 4})

	hr := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("123456"))
	w, r := serve(e, loc, hr)

	assert.Equal(t, []Code{Code(http.StatusRequestEntityTooLarge)}, br.readCodes)
	assert.Equal(t, 0, br.callbacks)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, r.Status())
}

func TestReadRequestBody_GrowsTooLarge(t *testing.T) {
	e, br, loc := newBodyReaderEngine(t, Options{MaxBodySize: 5})

	pr, pw := io.Pipe()
	defer pr.Close()

	hr := httptest.NewRequest(http.MethodPost, "/", pr)
	hr.ContentLength = -1
	writeChunks(t, pw, "abc", "defgh")

	w, _ := serve(e, loc, hr)

	assert.Equal(t, []Code{Again}, br.readCodes)
	assert.Equal(t, 0, br.callbacks)
	assert.Equal(t, 0, br.resumed)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestReadRequestBody_Truncated(t *testing.T) {
	e, br, loc := newBodyReaderEngine(t, Options{})

	pr, pw := io.Pipe()
	hr := httptest.NewRequest(http.MethodPost, "/", pr)
	hr.ContentLength = 10

	go func() {
		_, _ = pw.Write([]byte("abc"))
		_ = pw.Close()
	}()

	w, _ := serve(e, loc, hr)

	assert.Equal(t, 0, br.callbacks)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadRequestBody_Timeout(t *testing.T) {
	e, br, loc := newBodyReaderEngine(t, Options{BodyReadTimeout: 20 * time.Millisecond})

	pr, pw := io.Pipe()
	defer pr.Close()

	hr := httptest.NewRequest(http.MethodPost, "/", pr)
	hr.ContentLength = 10
	writeChunks(t, pw, "abc")

	w, _ := serve(e, loc, hr)

	assert.Equal(t, []Code{Again}, br.readCodes)
	assert.Equal(t, 0, br.callbacks)
	assert.Equal(t, http.StatusRequestTimeout, w.Code)
}

func TestReadRequestBody_StallBeforeFirstByte(t *testing.T) {
	e, br, loc := newBodyReaderEngine(t, Options{BodyReadTimeout: 50 * time.Millisecond})

	pr, _ := io.Pipe()
	defer pr.Close()

	hr := httptest.NewRequest(http.MethodPost, "/", pr)
	hr.ContentLength = 10

	type result struct {
		w *httptest.ResponseRecorder
		r *Request
	}
	done := make(chan result, 1)
	go func() {
		w, r := serve(e, loc, hr)
		done <- result{w, r}
	}()

	select {
	case res := <-done:
		assert.Equal(t, []Code{Code(http.StatusRequestTimeout)}, br.readCodes)
		assert.Equal(t, 0, br.callbacks)
		assert.Equal(t, http.StatusRequestTimeout, res.w.Code)
		assert.True(t, res.r.Finalized())
	case <-time.After(2 * time.Second):
		t.Fatal("request still waiting for its first body byte")
	}
}

func TestReadRequestBody_ClientGoneBeforeFirstByte(t *testing.T) {
	e, br, loc := newBodyReaderEngine(t, Options{})

	var logged int
	require.NoError(t, e.Register(PhaseLog, func(r *Request) Code {
		logged = r.Status()
		return OK
	}))

	pr, _ := io.Pipe()
	defer pr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	hr := httptest.NewRequest(http.MethodPost, "/", pr).WithContext(ctx)
	hr.ContentLength = 10

	time.AfterFunc(20*time.Millisecond, cancel)
	_, r := serve(e, loc, hr)

	assert.Equal(t, []Code{Code(StatusClientClosedRequest)}, br.readCodes)
	assert.Equal(t, 0, br.callbacks)
	assert.True(t, r.Finalized())
	assert.Equal(t, StatusClientClosedRequest, logged)
}

func TestReadRequestBody_ClientGone(t *testing.T) {
	e, br, loc := newBodyReaderEngine(t, Options{})

	var logged int
	require.NoError(t, e.Register(PhaseLog, func(r *Request) Code {
		logged = r.Status()
		return OK
	}))

	pr, pw := io.Pipe()
	defer pr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	hr := httptest.NewRequest(http.MethodPost, "/", pr).WithContext(ctx)
	hr.ContentLength = 10

	go func() {
		_, _ = pw.Write([]byte("abc"))
		cancel()
	}()

	_, r := serve(e, loc, hr)

	assert.Equal(t, 0, br.callbacks)
	assert.True(t, r.Finalized())
	assert.Equal(t, StatusClientClosedRequest, logged)
}

func TestReadRequestBody_SecondCallAfterCompletion(t *testing.T) {
	e := NewEngine(Options{})
	hr := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
	r := NewRequest(httptest.NewRecorder(), hr, nil)

	calls := 0
	post := func(r *Request) { calls++ }

	assert.Equal(t, OK, e.ReadRequestBody(r, post))
	assert.Equal(t, OK, e.ReadRequestBody(r, post))
	assert.Equal(t, 2, calls)
	assert.Equal(t, "x", string(r.Body().Bytes()))
}
