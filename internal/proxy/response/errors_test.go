package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWriter_WriteError(t *testing.T) {
	errorWriter := NewErrorWriter(logrus.NewEntry(logrus.New()))

	w := httptest.NewRecorder()
	errorWriter.WriteError(w, http.StatusRequestEntityTooLarge, "req-1")

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, Error{
		Code:      "PayloadTooLarge",
		Message:   "Request Entity Too Large",
		RequestID: "req-1",
	}, body.Error)
}

func TestErrorWriter_WriteGenericError(t *testing.T) {
	errorWriter := NewErrorWriter(logrus.NewEntry(logrus.New()))

	w := httptest.NewRecorder()
	errorWriter.WriteGenericError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "PUT is not allowed on /orders")

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.JSONEq(t, `{"error":{"code":"MethodNotAllowed","message":"PUT is not allowed on /orders"}}`, w.Body.String())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "RequestTimeout", ErrorCode(http.StatusRequestTimeout))
	assert.Equal(t, "Conflict", ErrorCode(http.StatusConflict))
	assert.Equal(t, "Error", ErrorCode(499))
}

func TestS3ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"typed missing bucket", fmt.Errorf("put: %w", &types.NoSuchBucket{}), http.StatusInternalServerError},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, http.StatusInternalServerError},
		{"throttled", &smithy.GenericAPIError{Code: "SlowDown"}, http.StatusServiceUnavailable},
		{"timeout", &smithy.GenericAPIError{Code: "RequestTimeout"}, http.StatusGatewayTimeout},
		{"network", errors.New("connection refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, S3ErrorStatus(tt.err))
		})
	}
}
