package upstream

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/guided-traffic/json-post-proxy/internal/config"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/guided-traffic/json-post-proxy/internal/proxy/response"
	"github.com/guided-traffic/json-post-proxy/internal/requestid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T, loc *config.LocationConfig) *Handler {
	t.Helper()
	logger := logrus.NewEntry(logrus.New())
	h, err := NewHandler(loc, nil, response.NewErrorWriter(logger), logger)
	require.NoError(t, err)
	return h
}

func serve(h *Handler, hr *http.Request) *httptest.ResponseRecorder {
	e := pipeline.NewEngine(pipeline.Options{})
	_ = e.Register(pipeline.PhaseRewrite, func(r *pipeline.Request) pipeline.Code {
		if r.Body().Complete() {
			return pipeline.Declined
		}
		if rc := e.ReadRequestBody(r, func(*pipeline.Request) {}); rc != pipeline.OK {
			return rc
		}
		r.Vars().Set("json_user", "alice")
		return pipeline.Declined
	})

	loc := pipeline.NewLocation("/hooks")
	loc.Content = h.Handle

	w := httptest.NewRecorder()
	e.Handler(loc).ServeHTTP(w, hr)
	return w
}

func TestHandle_ForwardsRequest(t *testing.T) {
	type seen struct {
		path, query, user, requestID, body, forwardedFor string
	}
	got := make(chan seen, 1)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- seen{
			path:         r.URL.Path,
			query:        r.URL.RawQuery,
			user:         r.Header.Get("X-User"),
			requestID:    r.Header.Get(requestid.Header),
			body:         string(body),
			forwardedFor: r.Header.Get("X-Forwarded-For"),
		}
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	defer backend.Close()

	h := newHandler(t, &config.LocationConfig{
		ProxyPass:      backend.URL + "/api",
		ProxySetHeader: map[string]string{"x-user": "$json_user", "X-Drop": ""},
	})

	hr := httptest.NewRequest(http.MethodPost, "/hooks?x=1", strings.NewReader(`{"user":"alice"}`))
	hr.Header.Set("X-Drop", "client value")
	w := serve(h, hr)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "queued", w.Body.String())
	assert.Equal(t, "yes", w.Header().Get("X-Backend"))

	s := <-got
	assert.Equal(t, "/api/hooks", s.path)
	assert.Equal(t, "x=1", s.query)
	assert.Equal(t, "alice", s.user)
	assert.NotEmpty(t, s.requestID)
	assert.Equal(t, `{"user":"alice"}`, s.body)
	assert.NotEmpty(t, s.forwardedFor)
}

func TestHandle_UpstreamDown(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	h := newHandler(t, &config.LocationConfig{ProxyPass: url})

	w := serve(h, httptest.NewRequest(http.MethodPost, "/hooks", strings.NewReader("{}")))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"BadGateway"`)
}

func TestNewHandler_InvalidURL(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())
	_, err := NewHandler(&config.LocationConfig{ProxyPass: "http://[::1"}, nil, response.NewErrorWriter(logger), logger)
	assert.Error(t, err)
}
