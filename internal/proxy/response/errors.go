package response

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Error is the body of every error response
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errorBody struct {
	Error Error `json:"error"`
}

// ErrorWriter writes JSON error responses
type ErrorWriter struct {
	logger *logrus.Entry
}

// NewErrorWriter creates a new error response writer
func NewErrorWriter(logger *logrus.Entry) *ErrorWriter {
	return &ErrorWriter{
		logger: logger,
	}
}

// WriteError writes the error page for status
func (e *ErrorWriter) WriteError(w http.ResponseWriter, status int, requestID string) {
	e.write(w, status, Error{
		Code:      ErrorCode(status),
		Message:   http.StatusText(status),
		RequestID: requestID,
	})
}

// WriteGenericError writes an error response with custom code and message
func (e *ErrorWriter) WriteGenericError(w http.ResponseWriter, statusCode int, code, message string) {
	e.write(w, statusCode, Error{Code: code, Message: message})
}

func (e *ErrorWriter) write(w http.ResponseWriter, status int, body Error) {
	data, err := json.Marshal(errorBody{Error: body})
	if err != nil {
		e.logger.WithError(err).Error("Failed to encode error response")
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	if _, writeErr := w.Write(append(data, '\n')); writeErr != nil {
		e.logger.WithError(writeErr).Error("Failed to write error response")
	}
}

var errorCodes = map[int]string{
	http.StatusBadRequest:            "BadRequest",
	http.StatusUnauthorized:          "Unauthorized",
	http.StatusForbidden:             "Forbidden",
	http.StatusNotFound:              "NotFound",
	http.StatusMethodNotAllowed:      "MethodNotAllowed",
	http.StatusRequestTimeout:        "RequestTimeout",
	http.StatusRequestEntityTooLarge: "PayloadTooLarge",
	http.StatusInternalServerError:   "InternalError",
	http.StatusBadGateway:            "BadGateway",
	http.StatusServiceUnavailable:    "ServiceUnavailable",
	http.StatusGatewayTimeout:        "GatewayTimeout",
}

// ErrorCode returns the error code reported for status
func ErrorCode(status int) string {
	if code, ok := errorCodes[status]; ok {
		return code
	}
	if text := http.StatusText(status); text != "" {
		return strings.ReplaceAll(text, " ", "")
	}
	return "Error"
}

// S3ErrorStatus maps a failed S3 call to the status answered to the client.
// Missing buckets are a configuration problem, everything else is blamed on
// the backend.
func S3ErrorStatus(err error) int {
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return http.StatusInternalServerError
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return http.StatusInternalServerError
		case "SlowDown", "ServiceUnavailable":
			return http.StatusServiceUnavailable
		case "RequestTimeout":
			return http.StatusGatewayTimeout
		}
	}

	return http.StatusBadGateway
}
