package types

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when decoding a response that carries no payload.
var ErrEmptyResponse = errors.New("empty response")

// Response is the raw payload a backend produced for a query. A nil
// *Response means the backend produced no result.
type Response struct {
	Raw string `json:"raw"`
}

// NewResponse wraps raw. Whitespace-only payloads yield nil.
func NewResponse(raw string) *Response {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return &Response{Raw: raw}
}

// IsEmpty reports whether r carries no payload. It is safe on a nil receiver.
func (r *Response) IsEmpty() bool {
	return r == nil || strings.TrimSpace(r.Raw) == ""
}

// String returns the raw payload, or "" for a nil response.
func (r *Response) String() string {
	if r == nil {
		return ""
	}
	return r.Raw
}

// Decode unmarshals the payload into v.
func (r *Response) Decode(v any) error {
	if r.IsEmpty() {
		return ErrEmptyResponse
	}
	return json.Unmarshal([]byte(r.Raw), v)
}

// Message decodes the payload as an intent message.
func (r *Response) Message() (*Message, error) {
	var m Message
	if err := r.Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
