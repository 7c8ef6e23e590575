// Package relay implements a WebSocket backend that forwards queries to a
// recognition relay. One connection carries one query.
//
// Client frames:
//
//	{"type":"query","text":"..."}                 text query
//	{"type":"audio_start","format":{...}}          voice query header
//	<binary PCM frames>
//	{"type":"audio_end"}                           end of speech
//
// Server frames:
//
//	{"type":"result","payload":{...}}              final answer (payload may be null)
//	{"type":"error","code":"...","message":"..."}  failure
//	{"type":"partial",...}                         ignored
//
// The server may answer a voice query before audio_end when it detects the
// end of speech itself.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/types"
)

const name = "relay"

// Backend dials the relay for each query.
type Backend struct {
	url       string
	dialer    *websocket.Dialer
	chunkSize int
	onAudio   func(n int)
}

// Option configures a Backend.
type Option func(*Backend)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(b *Backend) { b.dialer = d }
}

// WithChunkSize sets the maximum binary frame size. Default 3200 (100ms of
// 16 kHz mono PCM).
func WithChunkSize(n int) Option {
	return func(b *Backend) { b.chunkSize = n }
}

// WithAudioObserver registers fn to be called with every frame size sent.
func WithAudioObserver(fn func(n int)) Option {
	return func(b *Backend) { b.onAudio = fn }
}

// New creates a relay backend for the ws:// or wss:// url.
func New(url string, opts ...Option) *Backend {
	b := &Backend{
		url:       url,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		chunkSize: 3200,
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

type clientFrame struct {
	Type   string             `json:"type"`
	Text   string             `json:"text,omitempty"`
	Format *types.AudioFormat `json:"format,omitempty"`
}

type serverFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// TextQuery sends a single query frame and waits for the result.
func (b *Backend) TextQuery(ctx context.Context, text, token string) (*types.Response, error) {
	s, err := b.open(ctx, token)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.writeJSON(clientFrame{Type: "query", Text: text}); err != nil {
		return nil, core.NewBackendError(name, err)
	}
	return s.wait(ctx)
}

// VoiceQuery streams audio as binary frames until EOF, then waits for the
// result. A result that arrives early ends the upload.
func (b *Backend) VoiceQuery(ctx context.Context, audio io.Reader, format types.AudioFormat, token string) (*types.Response, error) {
	s, err := b.open(ctx, token)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.writeJSON(clientFrame{Type: "audio_start", Format: &format}); err != nil {
		return nil, core.NewBackendError(name, err)
	}

	go s.pump(audio, b.chunkSize, b.onAudio)

	return s.wait(ctx)
}

func (b *Backend) open(ctx context.Context, token string) (*session, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, resp, err := b.dialer.DialContext(ctx, b.url, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, core.NewBackendStatusError(name, resp.StatusCode, "", fmt.Sprintf("websocket connect: %s", string(body)))
		}
		return nil, core.NewBackendError(name, fmt.Errorf("websocket connect: %w", err))
	}

	s := &session{
		conn:   conn,
		result: make(chan outcome, 1),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type outcome struct {
	resp *types.Response
	err  error
}

// session is one query's connection.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
	result  chan outcome
	done    chan struct{}
	once    sync.Once
}

func (s *session) writeJSON(v any) error {
	if s.closed.Load() {
		return errors.New("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *session) writeBinary(data []byte) error {
	if s.closed.Load() {
		return errors.New("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *session) pump(audio io.Reader, chunkSize int, onAudio func(int)) {
	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if werr := s.writeBinary(buf[:n]); werr != nil {
				return
			}
			if onAudio != nil {
				onAudio(n)
			}
		}
		if err == io.EOF {
			_ = s.writeJSON(clientFrame{Type: "audio_end"})
			return
		}
		if err != nil {
			s.deliver(outcome{err: core.NewBackendError(name, fmt.Errorf("read audio: %w", err))})
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
	}
}

func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				s.deliver(outcome{err: core.NewBackendError(name, fmt.Errorf("connection lost before result: %w", err))})
			}
			return
		}

		var f serverFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.deliver(outcome{err: core.NewBackendError(name, fmt.Errorf("malformed frame: %w", err))})
			return
		}

		switch f.Type {
		case "result":
			raw := string(f.Payload)
			if raw == "null" {
				raw = ""
			}
			s.deliver(outcome{resp: types.NewResponse(raw)})
			return
		case "error":
			msg := f.Message
			if msg == "" {
				msg = "relay reported an error"
			}
			s.deliver(outcome{err: core.NewBackendStatusError(name, 0, f.Code, msg)})
			return
		default:
			// partial results and keepalives
		}
	}
}

// deliver records the first outcome; later ones are dropped.
func (s *session) deliver(o outcome) {
	select {
	case s.result <- o:
	default:
	}
}

func (s *session) wait(ctx context.Context) (*types.Response, error) {
	select {
	case o := <-s.result:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, core.NewBackendError(name, ctx.Err())
	}
}

func (s *session) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
