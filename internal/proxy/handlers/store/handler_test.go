package store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/guided-traffic/json-post-proxy/internal/config"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUploader is a mock implementation of the Uploader interface
type MockUploader struct {
	mock.Mock
	bodies []string
}

func (m *MockUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, _ := io.ReadAll(input.Body)
	m.bodies = append(m.bodies, string(data))

	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*manager.UploadOutput), args.Error(1)
}

func serve(t *testing.T, h *Handler, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()

	e := pipeline.NewEngine(pipeline.Options{})
	require.NoError(t, e.Register(pipeline.PhaseRewrite, func(r *pipeline.Request) pipeline.Code {
		if rc := e.ReadRequestBody(r, func(*pipeline.Request) {}); rc != pipeline.OK {
			return rc
		}
		r.Vars().Set("json_id", "42")
		return pipeline.Declined
	}))

	logged := map[string]string{}
	require.NoError(t, e.Register(pipeline.PhaseLog, func(r *pipeline.Request) pipeline.Code {
		logged["key"] = r.Expand("$s3_key")
		logged["etag"] = r.Expand("$s3_etag")
		return pipeline.OK
	}))

	loc := pipeline.NewLocation("/orders")
	loc.Content = h.Handle

	hr := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	hr.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.Handler(loc).ServeHTTP(w, hr)
	return w, logged
}

func TestHandle_StoresBody(t *testing.T) {
	uploader := &MockUploader{}
	uploader.On("Upload", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "orders" &&
			aws.ToString(in.Key) == "incoming/42.json" &&
			aws.ToString(in.ContentType) == "application/json" &&
			in.Metadata["request-id"] != ""
	})).Return(&manager.UploadOutput{ETag: aws.String(`"abc"`)}, nil)

	h := NewHandler(&config.S3PutConfig{Bucket: "orders", Key: "/incoming/$json_id.json"}, uploader, logrus.NewEntry(logrus.New()))

	w, logged := serve(t, h, `{"id":42}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"bucket":"orders","key":"incoming/42.json","etag":"abc"}`, w.Body.String())
	assert.Equal(t, []string{`{"id":42}`}, uploader.bodies)
	assert.Equal(t, "incoming/42.json", logged["key"])
	assert.Equal(t, "abc", logged["etag"])
	uploader.AssertExpectations(t)
}

func TestHandle_ConfiguredContentType(t *testing.T) {
	uploader := &MockUploader{}
	uploader.On("Upload", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.ContentType) == "application/x-ndjson"
	})).Return(&manager.UploadOutput{}, nil)

	h := NewHandler(&config.S3PutConfig{Bucket: "b", Key: "k", ContentType: "application/x-ndjson"}, uploader, logrus.NewEntry(logrus.New()))

	w, _ := serve(t, h, `{}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	uploader.AssertExpectations(t)
}

func TestHandle_EmptyKey(t *testing.T) {
	uploader := &MockUploader{}
	h := NewHandler(&config.S3PutConfig{Bucket: "b", Key: "$json_missing"}, uploader, logrus.NewEntry(logrus.New()))

	w, _ := serve(t, h, `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
}

func TestHandle_UploadFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"backend unreachable", &smithy.OperationError{ServiceID: "S3", OperationName: "PutObject", Err: io.ErrUnexpectedEOF}, http.StatusBadGateway},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, http.StatusInternalServerError},
		{"throttled", &smithy.GenericAPIError{Code: "SlowDown"}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uploader := &MockUploader{}
			uploader.On("Upload", mock.Anything, mock.Anything).Return(nil, tt.err)

			h := NewHandler(&config.S3PutConfig{Bucket: "b", Key: "k"}, uploader, logrus.NewEntry(logrus.New()))

			w, logged := serve(t, h, `{}`)

			assert.Equal(t, tt.status, w.Code)
			assert.Empty(t, logged["key"])
		})
	}
}
