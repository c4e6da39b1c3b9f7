// Package store writes request bodies to S3.
package store

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/guided-traffic/json-post-proxy/internal/config"
	"github.com/guided-traffic/json-post-proxy/internal/monitoring"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/guided-traffic/json-post-proxy/internal/proxy/response"
	s3backend "github.com/guided-traffic/json-post-proxy/internal/s3"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is the response body of a stored request
type Result struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	ETag      string `json:"etag,omitempty"`
	VersionID string `json:"version_id,omitempty"`
}

// Handler implements the s3_put content handler
type Handler struct {
	uploader    s3backend.Uploader
	bucket      string
	key         string
	contentType string
	logger      *logrus.Entry
}

// NewHandler creates an s3_put handler
func NewHandler(cfg *config.S3PutConfig, uploader s3backend.Uploader, logger *logrus.Entry) *Handler {
	return &Handler{
		uploader:    uploader,
		bucket:      cfg.Bucket,
		key:         cfg.Key,
		contentType: cfg.ContentType,
		logger: logger.WithFields(logrus.Fields{
			"handler": config.ContentS3Put,
			"bucket":  cfg.Bucket,
		}),
	}
}

// Handle uploads the body under the expanded key and answers 201 with the
// object location. $s3_key and $s3_etag are set for the log phase.
func (h *Handler) Handle(r *pipeline.Request) pipeline.Code {
	start := time.Now()
	log := h.logger.WithField("request_id", r.ID())

	key := strings.TrimLeft(r.Expand(h.key), "/")
	if key == "" {
		log.WithField("template", h.key).Warn("Object key expanded to an empty string")
		monitoring.RecordContentOperation(config.ContentS3Put, "rejected", time.Since(start))
		return pipeline.Code(http.StatusBadRequest)
	}
	log = log.WithField("key", key)

	contentType := h.contentType
	if contentType == "" {
		contentType = r.HTTP.Header.Get("Content-Type")
	}
	if contentType == "" {
		contentType = "application/json"
	}

	var body io.Reader = r.HTTP.Body
	if r.Body().Complete() {
		body = bytes.NewReader(r.Body().Bytes())
	}

	out, err := h.uploader.Upload(r.Context(), &s3.PutObjectInput{
		Bucket:      aws.String(h.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"request-id": r.ID(),
		},
	})
	if err != nil {
		status := response.S3ErrorStatus(err)
		log.WithError(err).WithField("status", status).Error("Failed to store request body")
		monitoring.RecordContentOperation(config.ContentS3Put, "error", time.Since(start))
		return pipeline.Code(status)
	}

	res := Result{
		Bucket:    h.bucket,
		Key:       key,
		ETag:      strings.Trim(aws.ToString(out.ETag), `"`),
		VersionID: aws.ToString(out.VersionID),
	}
	r.Vars().Set(config.S3VariablePrefix+"key", res.Key)
	r.Vars().Set(config.S3VariablePrefix+"etag", res.ETag)

	data, err := json.Marshal(res)
	if err != nil {
		log.WithError(err).Error("Failed to encode upload result")
		return pipeline.Error
	}

	w := r.Writer()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if _, err := w.Write(data); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}

	monitoring.RecordContentOperation(config.ContentS3Put, "success", time.Since(start))
	log.WithField("duration", time.Since(start)).Debug("Stored request body")

	return pipeline.OK
}
