// Package witai implements the Wit.ai HTTP backend.
package witai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/types"
)

const (
	DefaultBaseURL    = "https://api.wit.ai"
	DefaultAPIVersion = "20240304"

	name = "witai"
)

// Backend queries the Wit.ai /message and /speech endpoints.
type Backend struct {
	baseURL    string
	version    string
	httpClient *http.Client
	onAudio    func(n int)
}

// Option configures a Backend.
type Option func(*Backend)

// WithBaseURL overrides the API root (used by tests and self-hosted relays).
func WithBaseURL(u string) Option {
	return func(b *Backend) { b.baseURL = strings.TrimRight(u, "/") }
}

// WithAPIVersion sets the v= query parameter.
func WithAPIVersion(v string) Option {
	return func(b *Backend) { b.version = v }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// WithAudioObserver registers fn to be called with the size of every audio
// chunk uploaded.
func WithAudioObserver(fn func(n int)) Option {
	return func(b *Backend) { b.onAudio = fn }
}

// New creates a Wit.ai backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		baseURL:    DefaultBaseURL,
		version:    DefaultAPIVersion,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return name
}

// TextQuery calls GET /message.
func (b *Backend) TextQuery(ctx context.Context, text, token string) (*types.Response, error) {
	q := url.Values{}
	q.Set("v", b.version)
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/message?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	b.setHeaders(req, token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, core.NewBackendError(name, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewBackendError(name, fmt.Errorf("read response: %w", err))
	}
	if len(bytes.TrimSpace(body)) > 0 && !json.Valid(body) {
		return nil, core.NewBackendError(name, errors.New("malformed JSON response"))
	}
	return types.NewResponse(string(body)), nil
}

// VoiceQuery streams audio to POST /speech with chunked transfer encoding.
// The upload ends when audio returns io.EOF.
func (b *Backend) VoiceQuery(ctx context.Context, audio io.Reader, format types.AudioFormat, token string) (*types.Response, error) {
	q := url.Values{}
	q.Set("v", b.version)

	body := io.Reader(audio)
	if b.onAudio != nil {
		body = &observedReader{r: audio, fn: b.onAudio}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/speech?"+q.Encode(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// Unknown length: the transport uses chunked encoding.
	req.ContentLength = -1
	b.setHeaders(req, token)
	req.Header.Set("Content-Type", format.ContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, core.NewBackendError(name, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	raw, err := lastSpeechObject(resp.Body)
	if err != nil {
		return nil, core.NewBackendError(name, err)
	}
	return types.NewResponse(raw), nil
}

func (b *Backend) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
}

type witError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var we witError
	if json.Unmarshal(body, &we) == nil && we.Error != "" {
		return core.NewBackendStatusError(name, resp.StatusCode, we.Code, we.Error)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return core.NewBackendStatusError(name, resp.StatusCode, "", msg)
}

// lastSpeechObject reads the stream of JSON objects /speech produces and
// returns the final understanding: the last object marked final, or the
// last object seen.
func lastSpeechObject(r io.Reader) (string, error) {
	dec := json.NewDecoder(r)
	var last, final json.RawMessage
	for {
		var obj json.RawMessage
		if err := dec.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if last != nil {
				// The stream was cut after a complete object.
				break
			}
			return "", fmt.Errorf("decode speech response: %w", err)
		}
		last = obj

		var probe struct {
			Type    string `json:"type"`
			IsFinal bool   `json:"is_final"`
			Error   string `json:"error"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(obj, &probe) == nil {
			if probe.Error != "" {
				return "", fmt.Errorf("%s (code: %s)", probe.Error, probe.Code)
			}
			if probe.IsFinal && (probe.Type == "" || strings.HasSuffix(probe.Type, "UNDERSTANDING")) {
				final = obj
			}
		}
	}
	if final != nil {
		return string(final), nil
	}
	return string(last), nil
}

type observedReader struct {
	r  io.Reader
	fn func(int)
}

func (o *observedReader) Read(p []byte) (int, error) {
	n, err := o.r.Read(p)
	if n > 0 {
		o.fn(n)
	}
	return n, err
}
