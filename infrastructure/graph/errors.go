package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"

	"drivesync/domain/contracts"
)

// APIError is a non-2xx Graph response. It unwraps to the matching contracts sentinel.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph: status %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph: status %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return sentinelForStatus(e.StatusCode)
}

// sentinelForStatus is the single place where HTTP statuses map to engine errors.
func sentinelForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return contracts.ErrUnauthorized
	case status == http.StatusNotFound:
		return contracts.ErrNotFound
	case status == http.StatusGone:
		return contracts.ErrResyncRequired
	case isRetryableStatus(status):
		return contracts.ErrTransient
	default:
		return nil
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newAPIError builds an APIError from a response and its already-read body.
func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
		} else if at, err := http.ParseTime(retryAfter); err == nil {
			apiErr.RetryAfter = time.Until(at)
		}
	}
	return apiErr
}

// classifySDKError maps an msgraph-sdk error to the engine sentinels.
func classifySDKError(op string, err error) error {
	if err == nil {
		return nil
	}
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		// ODataError.Error dereferences the error body, which gateway responses omit.
		apiErr := &APIError{
			StatusCode: odataErr.ResponseStatusCode,
			Message:    fmt.Sprintf("status %d", odataErr.ResponseStatusCode),
		}
		if main := odataErr.GetErrorEscaped(); main != nil {
			if code := main.GetCode(); code != nil {
				apiErr.Code = *code
			}
			if msg := main.GetMessage(); msg != nil {
				apiErr.Message = *msg
			}
		}
		return fmt.Errorf("%s: %w", op, apiErr)
	}
	if errors.Is(err, contracts.ErrUnauthorized) || errors.Is(err, contracts.ErrTransient) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, contracts.ErrTransient, err)
}
