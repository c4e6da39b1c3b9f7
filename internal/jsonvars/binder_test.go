package jsonvars

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBinder() *Binder {
	logrus.SetLevel(logrus.ErrorLevel)
	return NewBinder(NewDecoder(0, 0), logrus.WithField("component", "test"))
}

// newBodyRequest returns a request whose body has already been received
func newBodyRequest(t *testing.T, conf *LocationConf, method, body string) *pipeline.Request {
	t.Helper()

	loc := pipeline.NewLocation("/orders")
	if conf != nil {
		loc.SetConf(Module, conf)
	}

	hr := httptest.NewRequest(method, "/orders", strings.NewReader(body))
	r := pipeline.NewRequest(httptest.NewRecorder(), hr, loc)

	if method == http.MethodPost {
		engine := pipeline.NewEngine(pipeline.Options{})
		require.Equal(t, pipeline.OK, engine.ReadRequestBody(r, func(*pipeline.Request) {}))
	}
	return r
}

func TestBinder_BindsVariables(t *testing.T) {
	b := newBinder()
	r := newBodyRequest(t, &LocationConf{Enabled: true, Prefix: "json_"}, http.MethodPost, `{"user":"alice","id":7}`)

	assert.Equal(t, pipeline.Declined, b.Handle(r))

	user, ok := r.Var("json_user")
	assert.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "alice/7", r.Expand("$json_user/$json_id"))

	res := ResultOf(r)
	require.NotNil(t, res)
	assert.ElementsMatch(t, []string{"json_user", "json_id"}, res.Names)
	assert.NoError(t, DecodeError(r))
}

func TestBinder_DecodeErrorIsNotFatal(t *testing.T) {
	b := newBinder()
	r := newBodyRequest(t, &LocationConf{Enabled: true, Prefix: "json_"}, http.MethodPost, `{"user":`)

	assert.Equal(t, pipeline.Declined, b.Handle(r))

	assert.Error(t, DecodeError(r))
	msg, ok := r.Var("json_decode_error")
	assert.True(t, ok)
	assert.Contains(t, msg, "invalid JSON")
	assert.Equal(t, 1, r.Vars().Len())
}

func TestBinder_BindsOnce(t *testing.T) {
	b := newBinder()
	r := newBodyRequest(t, &LocationConf{Enabled: true, Prefix: "json_"}, http.MethodPost, `{"a":"1"}`)

	b.Handle(r)
	r.Vars().Set("json_a", "changed")
	b.Handle(r)

	v, _ := r.Var("json_a")
	assert.Equal(t, "changed", v)
}

func TestBinder_Skips(t *testing.T) {
	b := newBinder()

	t.Run("location disabled", func(t *testing.T) {
		r := newBodyRequest(t, &LocationConf{Enabled: false, Prefix: "json_"}, http.MethodPost, `{"a":1}`)
		assert.Equal(t, pipeline.Declined, b.Handle(r))
		assert.Nil(t, ResultOf(r))
	})

	t.Run("location without configuration", func(t *testing.T) {
		r := newBodyRequest(t, nil, http.MethodPost, `{"a":1}`)
		assert.Equal(t, pipeline.Declined, b.Handle(r))
		assert.Nil(t, ResultOf(r))
	})

	t.Run("body not read", func(t *testing.T) {
		r := newBodyRequest(t, &LocationConf{Enabled: true, Prefix: "json_"}, http.MethodGet, ``)
		assert.Equal(t, pipeline.Declined, b.Handle(r))
		assert.Nil(t, ResultOf(r))
		assert.Equal(t, 0, r.Vars().Len())
	})
}

type phaseRecorder struct {
	phases []pipeline.Phase
}

func (p *phaseRecorder) Register(phase pipeline.Phase, h pipeline.Handler) error {
	p.phases = append(p.phases, phase)
	return nil
}

func TestRegister(t *testing.T) {
	rec := &phaseRecorder{}
	require.NoError(t, Register(rec, newBinder(), false))
	assert.Empty(t, rec.phases)

	require.NoError(t, Register(rec, newBinder(), true))
	assert.Equal(t, []pipeline.Phase{pipeline.PhaseRewrite}, rec.phases)
}
