package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrAPI is wrapped by every *APIError.
var ErrAPI = errors.New("vault api error")

// APIError is a non-2xx reply from the vault.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vault error %d: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return ErrAPI }

// decodeAPIError reads the {"errorCode","message"} body the plugin sends,
// falling back to the HTTP status and raw body.
func decodeAPIError(status int, body []byte) *APIError {
	var payload struct {
		ErrorCode int    `json:"errorCode"`
		Message   string `json:"message"`
	}
	e := &APIError{Status: status, Code: status}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.ErrorCode != 0 {
			e.Code = payload.ErrorCode
		}
		e.Message = payload.Message
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = "<unknown>"
	}
	return e
}
