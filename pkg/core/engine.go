package core

import (
	"context"
	"errors"
	"io"

	"github.com/vango-go/wit-lite/pkg/core/types"
)

// Engine runs queries against a single Backend and normalizes what comes back:
// errors always surface as *Error and blank payloads as a nil response.
type Engine struct {
	backend Backend
}

// NewEngine creates an Engine over backend.
func NewEngine(backend Backend) *Engine {
	return &Engine{backend: backend}
}

// Name returns the wrapped backend's name.
func (e *Engine) Name() string {
	return e.backend.Name()
}

// TextQuery validates its arguments and forwards to the backend.
func (e *Engine) TextQuery(ctx context.Context, text, token string) (*types.Response, error) {
	if text == "" {
		return nil, NewInvalidArgumentError("text must not be empty", "text")
	}
	if token == "" {
		return nil, NewInvalidArgumentError("access token must not be empty", "token")
	}
	resp, err := e.backend.TextQuery(ctx, text, token)
	return e.normalize(resp, err)
}

// VoiceQuery forwards audio to the backend. audio must be non-nil.
func (e *Engine) VoiceQuery(ctx context.Context, audio io.Reader, format types.AudioFormat, token string) (*types.Response, error) {
	if token == "" {
		return nil, NewInvalidArgumentError("access token must not be empty", "token")
	}
	if audio == nil {
		return nil, NewInvalidArgumentError("audio stream is required", "audio")
	}
	resp, err := e.backend.VoiceQuery(ctx, audio, format, token)
	return e.normalize(resp, err)
}

func (e *Engine) normalize(resp *types.Response, err error) (*types.Response, error) {
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, NewBackendError(e.backend.Name(), err)
	}
	if resp.IsEmpty() {
		return nil, nil
	}
	return &types.Response{Raw: resp.Raw}, nil
}
