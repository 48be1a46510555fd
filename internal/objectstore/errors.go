package objectstore

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// ErrorClass groups store failures by how the caller should react.
type ErrorClass string

const (
	ClassNone               ErrorClass = ""
	ClassNotFound           ErrorClass = "not_found"
	ClassAccessDenied       ErrorClass = "access_denied"
	ClassPreconditionFailed ErrorClass = "precondition_failed"
	ClassTemporary          ErrorClass = "temporary"
	ClassCanceled           ErrorClass = "canceled"
	ClassUnknown            ErrorClass = "unknown"
)

// Retryable reports whether an operation failing with this class may succeed
// when repeated.
func (c ErrorClass) Retryable() bool {
	return c == ClassTemporary
}

// Classify maps an error from any Store implementation to an ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrPreconditionFailed):
		return ClassPreconditionFailed
	case errors.Is(err, ErrAccessDenied):
		return ClassAccessDenied
	case errors.Is(err, ErrTransient):
		return ClassTemporary
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return ClassNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return ClassAccessDenied
		case "PreconditionFailed", "ConditionalRequestConflict":
			return ClassPreconditionFailed
		case "InternalError", "ServiceUnavailable", "SlowDown", "Throttling", "ThrottlingException",
			"RequestTimeout", "RequestTimeTooSkewed":
			return ClassTemporary
		case "NoSuchBucket":
			return ClassUnknown
		}
	}

	var httpErr *smithyhttp.ResponseError
	if errors.As(err, &httpErr) {
		switch code := httpErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return ClassNotFound
		case code == http.StatusForbidden:
			return ClassAccessDenied
		case code == http.StatusPreconditionFailed, code == http.StatusConflict:
			return ClassPreconditionFailed
		case code == http.StatusTooManyRequests, code >= 500:
			return ClassTemporary
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTemporary
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "broken pipe") {
		return ClassTemporary
	}
	return ClassUnknown
}
