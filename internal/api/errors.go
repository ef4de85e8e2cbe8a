package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrTransport matches every failure to obtain a successful response.
	ErrTransport = errors.New("api: transport failure")

	// ErrMalformedEnvelope matches responses that break the envelope contract.
	ErrMalformedEnvelope = errors.New("api: malformed envelope")
)

// APIError is returned when a request fails. StatusCode is zero when no
// response was received at all.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("API error (%s): %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("API error (%s, HTTP %d): %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Is(target error) bool { return target == ErrTransport }

// MalformedEnvelopeError carries the collection and the raw payload of a
// response that could not be flattened into entries.
type MalformedEnvelopeError struct {
	Collection string
	Reason     string
	Payload    []byte
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("malformed %s envelope: %s:\n%s", e.Collection, e.Reason, e.Rendered())
}

func (e *MalformedEnvelopeError) Is(target error) bool { return target == ErrMalformedEnvelope }

// Rendered returns the payload indented for reading, or verbatim when it
// is not valid JSON.
func (e *MalformedEnvelopeError) Rendered() string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, e.Payload, "", "  "); err != nil {
		return string(e.Payload)
	}
	return buf.String()
}
