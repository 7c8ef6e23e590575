// Package gemini implements an intent backend on top of the Gemini API. The
// model is asked to answer in the same JSON shape Wit.ai produces, so callers
// can switch backends without changing how they read results.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/audio"
	"github.com/vango-go/wit-lite/pkg/core/types"
)

const (
	DefaultModel = "gemini-2.5-flash"

	name = "gemini"
)

const basePrompt = `You are an intent classifier. Reply with a single JSON object and nothing else:
{"text": "<the user's utterance, transcribed if audio>",
 "intents": [{"name": "<intent>", "confidence": <0..1>}],
 "entities": {"<entity>:<role>": [{"name": "<entity>", "role": "<role>", "body": "<span>", "start": <int>, "end": <int>, "confidence": <0..1>, "value": <value>}]},
 "traits": {"<trait>": [{"value": "<value>", "confidence": <0..1>}]}}
Order intents by descending confidence. Use empty arrays and objects when nothing applies.`

// Backend classifies text and audio with a Gemini model. The per-query access
// token is the Gemini API key.
type Backend struct {
	model      string
	intents    []string
	baseURL    string
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// Option configures a Backend.
type Option func(*Backend)

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(b *Backend) { b.model = model }
}

// WithIntents restricts classification to the given intent names.
func WithIntents(intents ...string) Option {
	return func(b *Backend) { b.intents = append([]string(nil), intents...) }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(b *Backend) { b.baseURL = u }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// New creates a Gemini backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		model:   DefaultModel,
		clients: make(map[string]*genai.Client),
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

// TextQuery classifies text.
func (b *Backend) TextQuery(ctx context.Context, text, token string) (*types.Response, error) {
	return b.generate(ctx, token, genai.Text(text))
}

// VoiceQuery buffers audio until EOF and sends it inline as WAV.
func (b *Backend) VoiceQuery(ctx context.Context, r io.Reader, format types.AudioFormat, token string) (*types.Response, error) {
	var pcm bytes.Buffer
	if _, err := io.Copy(&pcm, r); err != nil {
		return nil, core.NewBackendError(name, fmt.Errorf("read audio: %w", err))
	}
	if pcm.Len() == 0 {
		return nil, nil
	}

	data, mime := pcm.Bytes(), "audio/wav"
	if format.Encoding != types.EncodingWAV {
		data = audio.EncodeWAV(data, format)
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText("Classify this spoken request."),
			genai.NewPartFromBytes(data, mime),
		}, genai.RoleUser),
	}
	return b.generate(ctx, token, contents)
}

func (b *Backend) generate(ctx context.Context, token string, contents []*genai.Content) (*types.Response, error) {
	client, err := b.client(ctx, token)
	if err != nil {
		return nil, core.NewBackendError(name, err)
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(b.systemPrompt(), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	}
	resp, err := client.Models.GenerateContent(ctx, b.model, contents, cfg)
	if err != nil {
		return nil, convertError(err)
	}

	text := strings.TrimSpace(resp.Text())
	text = strings.TrimSuffix(strings.TrimPrefix(text, "```json"), "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	var m types.Message
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, core.NewBackendError(name, fmt.Errorf("model returned malformed JSON: %w", err))
	}
	return types.NewResponse(text), nil
}

func (b *Backend) systemPrompt() string {
	if len(b.intents) == 0 {
		return basePrompt
	}
	return basePrompt + "\nKnown intents: " + strings.Join(b.intents, ", ") + ". Use only these names."
}

// client returns a cached client for the API key.
func (b *Backend) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[apiKey]; ok {
		return c, nil
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: b.httpClient,
	}
	if b.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: b.baseURL}
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	b.clients[apiKey] = c
	return c, nil
}

func convertError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return core.NewBackendStatusError(name, apiErr.Code, apiErr.Status, apiErr.Message)
	}
	return core.NewBackendError(name, err)
}
