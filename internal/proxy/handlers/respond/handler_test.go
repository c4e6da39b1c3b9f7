package respond

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/guided-traffic/json-post-proxy/internal/config"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func serve(h *Handler, hr *http.Request) *httptest.ResponseRecorder {
	loc := pipeline.NewLocation("/")
	loc.Content = func(r *pipeline.Request) pipeline.Code {
		r.Vars().Set("json_id", "42")
		return h.Handle(r)
	}

	w := httptest.NewRecorder()
	pipeline.NewEngine(pipeline.Options{}).Handler(loc).ServeHTTP(w, hr)
	return w
}

func TestHandle_ExpandsBody(t *testing.T) {
	h := NewHandler(&config.ReturnConfig{
		Status:      http.StatusCreated,
		Body:        `{"id":"$json_id","method":"$request_method"}`,
		ContentType: "application/json",
	}, logrus.NewEntry(logrus.New()))

	w := serve(h, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, `{"id":"42","method":"POST"}`, w.Body.String())
}

func TestHandle_DefaultContentType(t *testing.T) {
	h := NewHandler(&config.ReturnConfig{Status: http.StatusOK, Body: "ok"}, logrus.NewEntry(logrus.New()))

	w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", w.Body.String())
}

func TestHandle_NoContent(t *testing.T) {
	h := NewHandler(&config.ReturnConfig{Status: http.StatusNoContent}, logrus.NewEntry(logrus.New()))

	w := serve(h, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Empty(t, w.Header().Get("Content-Type"))
}

func TestHandle_ErrorStatusUsesErrorPage(t *testing.T) {
	h := NewHandler(&config.ReturnConfig{Status: http.StatusForbidden}, logrus.NewEntry(logrus.New()))

	w := serve(h, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Forbidden")
}
