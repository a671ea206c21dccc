package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// NetworkError means no response reached us: dial failure, reset, or timeout.
type NetworkError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthenticationError is a 401 that could not be recovered by a refresh.
type AuthenticationError struct {
	Status  int
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "authentication required"
	}
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", msg, e.Err)
	}
	return "authentication failed: " + msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ValidationError carries a structured 4xx body from the backend.
type ValidationError struct {
	Status  int
	Message string
	// Fields maps the offending field (last element of loc) to its message, when reported.
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%d): %s", e.Status, e.Message)
}

// UnknownError is everything else: 5xx, unstructured 4xx, undecodable bodies.
type UnknownError struct {
	Status int
	Err    error
}

func (e *UnknownError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected backend response (%d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("unexpected backend response (%d)", e.Status)
}

func (e *UnknownError) Unwrap() error { return e.Err }

type Kind string

const (
	KindNone           Kind = ""
	KindNetwork        Kind = "network"
	KindAuthentication Kind = "authentication"
	KindValidation     Kind = "validation"
	KindUnknown        Kind = "unknown"
)

// KindOf classifies err into the pipeline's error taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		netErr  *NetworkError
		authErr *AuthenticationError
		valErr  *ValidationError
	)
	switch {
	case errors.As(err, &authErr):
		return KindAuthentication
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &netErr):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// errorBody covers the body shapes the backend uses for errors:
// {"detail": "..."}, {"detail": [{"loc": [...], "msg": "..."}]}, {"message": "..."}, {"error": "..."}.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type detailItem struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

func parseErrorBody(body []byte) (string, map[string]string) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", nil
	}
	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil && s != "" {
			return s, nil
		}
		var items []detailItem
		if err := json.Unmarshal(eb.Detail, &items); err == nil && len(items) > 0 {
			fields := map[string]string{}
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg == "" {
					continue
				}
				msgs = append(msgs, it.Msg)
				if n := len(it.Loc); n > 0 {
					fields[fmt.Sprint(it.Loc[n-1])] = it.Msg
				}
			}
			if len(fields) == 0 {
				fields = nil
			}
			return strings.Join(msgs, "; "), fields
		}
	}
	if eb.Message != "" {
		return eb.Message, nil
	}
	return eb.Error, nil
}

// classify maps a non-2xx response into the taxonomy.
func classify(status int, body []byte) error {
	msg, fields := parseErrorBody(body)
	switch {
	case status == http.StatusUnauthorized:
		return &AuthenticationError{Status: status, Message: msg}
	case status == http.StatusUnprocessableEntity:
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &ValidationError{Status: status, Message: msg, Fields: fields}
	case status >= 400 && status < 500 && msg != "":
		return &ValidationError{Status: status, Message: msg, Fields: fields}
	default:
		return &UnknownError{Status: status}
	}
}
