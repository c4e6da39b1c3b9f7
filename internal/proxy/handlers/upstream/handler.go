// Package upstream forwards buffered requests to a backend server.
package upstream

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"time"

	"github.com/guided-traffic/json-post-proxy/internal/config"
	"github.com/guided-traffic/json-post-proxy/internal/monitoring"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/guided-traffic/json-post-proxy/internal/proxy/response"
	"github.com/guided-traffic/json-post-proxy/internal/requestid"
	"github.com/sirupsen/logrus"
)

type header struct {
	name     string
	template string
}

// Handler implements the proxy_pass content handler
type Handler struct {
	target  *url.URL
	headers []header
	proxy   *httputil.ReverseProxy
	logger  *logrus.Entry
}

// NewHandler creates a proxy_pass handler for loc. transport may be nil.
func NewHandler(loc *config.LocationConfig, transport http.RoundTripper, errorWriter *response.ErrorWriter, logger *logrus.Entry) (*Handler, error) {
	target, err := url.Parse(loc.ProxyPass)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy_pass %q: %w", loc.ProxyPass, err)
	}

	h := &Handler{
		target: target,
		logger: logger.WithFields(logrus.Fields{
			"handler":  config.ContentProxyPass,
			"upstream": target.String(),
		}),
	}

	for name, tmpl := range loc.ProxySetHeader {
		h.headers = append(h.headers, header{name: http.CanonicalHeaderKey(name), template: tmpl})
	}
	sort.Slice(h.headers, func(i, j int) bool { return h.headers[i].name < h.headers[j].name })

	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			id := requestid.FromContext(req.Context())
			h.logger.WithError(err).WithField("request_id", id).Error("Upstream request failed")
			errorWriter.WriteError(w, http.StatusBadGateway, id)
		},
	}

	return h, nil
}

// Handle sends the request upstream and relays the response
func (h *Handler) Handle(r *pipeline.Request) pipeline.Code {
	start := time.Now()

	out := r.HTTP.Clone(requestid.WithID(r.Context(), r.ID()))
	for _, hdr := range h.headers {
		value := r.Expand(hdr.template)
		if value == "" {
			out.Header.Del(hdr.name)
			continue
		}
		out.Header.Set(hdr.name, value)
	}
	out.Header.Set(requestid.Header, r.ID())

	h.proxy.ServeHTTP(r.Writer(), out)

	status := "success"
	if r.Status() >= http.StatusBadGateway {
		status = "error"
	}
	monitoring.RecordContentOperation(config.ContentProxyPass, status, time.Since(start))

	h.logger.WithFields(logrus.Fields{
		"request_id": r.ID(),
		"status":     r.Status(),
		"duration":   time.Since(start),
	}).Debug("Proxied request")

	return pipeline.OK
}
