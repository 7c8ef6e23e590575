package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/vango-go/wit-lite/pkg/core/types"
)

type stubBackend struct {
	name  string
	resp  *types.Response
	err   error
	calls int
	audio []byte
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) TextQuery(ctx context.Context, text, token string) (*types.Response, error) {
	b.calls++
	return b.resp, b.err
}

func (b *stubBackend) VoiceQuery(ctx context.Context, audio io.Reader, format types.AudioFormat, token string) (*types.Response, error) {
	b.calls++
	data, err := io.ReadAll(audio)
	if err != nil {
		return nil, err
	}
	b.audio = data
	return b.resp, b.err
}

func TestEngine_TextQueryValidatesBeforeBackend(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		token     string
		wantParam string
	}{
		{"empty text", "", "tok", "text"},
		{"empty token", "hello", "", "token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &stubBackend{name: "stub"}
			_, err := NewEngine(b).TextQuery(context.Background(), tt.text, tt.token)

			var ce *Error
			if !errors.As(err, &ce) || ce.Type != ErrInvalidArgument {
				t.Fatalf("err = %v, want invalid_argument_error", err)
			}
			if ce.Param != tt.wantParam {
				t.Errorf("Param = %q, want %q", ce.Param, tt.wantParam)
			}
			if b.calls != 0 {
				t.Errorf("backend calls = %d, want 0", b.calls)
			}
		})
	}
}

func TestEngine_PayloadSizes(t *testing.T) {
	tests := []struct {
		name    string
		resp    *types.Response
		wantNil bool
	}{
		{"nil", nil, true},
		{"zero length", &types.Response{Raw: ""}, true},
		{"blank", &types.Response{Raw: "  \n"}, true},
		{"small", &types.Response{Raw: "{}"}, false},
		{"large", &types.Response{Raw: `{"text":"` + strings.Repeat("a", 1<<20) + `"}`}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &stubBackend{name: "stub", resp: tt.resp}
			got, err := NewEngine(b).TextQuery(context.Background(), "hi", "tok")
			if err != nil {
				t.Fatalf("TextQuery() error = %v", err)
			}
			if (got == nil) != tt.wantNil {
				t.Fatalf("TextQuery() = %v, wantNil %v", got, tt.wantNil)
			}
			if got != nil {
				if got == tt.resp {
					t.Error("response should be a fresh value, not the backend's")
				}
				if got.Raw != tt.resp.Raw {
					t.Error("response payload changed")
				}
			}
		})
	}
}

func TestEngine_WrapsForeignErrors(t *testing.T) {
	b := &stubBackend{name: "stub", err: io.ErrUnexpectedEOF}
	_, err := NewEngine(b).TextQuery(context.Background(), "hi", "tok")

	if !IsType(err, ErrBackend) {
		t.Fatalf("err = %v, want backend_error", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("wrapped error should unwrap to io.ErrUnexpectedEOF")
	}
}

func TestEngine_KeepsCoreErrors(t *testing.T) {
	orig := NewBackendStatusError("stub", 401, "no-auth", "bad token")
	b := &stubBackend{name: "stub", err: orig}
	_, err := NewEngine(b).TextQuery(context.Background(), "hi", "tok")

	if err != orig {
		t.Fatalf("err = %v, want original *Error", err)
	}
}

func TestEngine_VoiceQuery(t *testing.T) {
	b := &stubBackend{name: "stub", resp: &types.Response{Raw: `{"text":"hi"}`}}
	e := NewEngine(b)

	if _, err := e.VoiceQuery(context.Background(), nil, types.DefaultAudioFormat(), "tok"); !IsType(err, ErrInvalidArgument) {
		t.Fatalf("nil audio err = %v, want invalid_argument_error", err)
	}
	got, err := e.VoiceQuery(context.Background(), strings.NewReader("pcm"), types.DefaultAudioFormat(), "tok")
	if err != nil {
		t.Fatalf("VoiceQuery() error = %v", err)
	}
	if got.Raw != `{"text":"hi"}` || string(b.audio) != "pcm" {
		t.Errorf("got %q, backend saw %q", got.Raw, b.audio)
	}
}

func TestBackendRegistry(t *testing.T) {
	r := NewBackendRegistry()
	r.Register(&stubBackend{name: "relay"})
	r.Register(&stubBackend{name: "gemini"})
	r.Register(&stubBackend{name: "witai"})

	if _, ok := r.Get("relay"); !ok {
		t.Error("Get(relay) not found")
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("Get(nope) found")
	}
	got := strings.Join(r.List(), ",")
	if got != "gemini,relay,witai" {
		t.Errorf("List() = %q", got)
	}
}

func TestEngine_NameIsBackendName(t *testing.T) {
	if got := NewEngine(&stubBackend{name: "relay"}).Name(); got != "relay" {
		t.Fatalf("Name() = %q, want relay", got)
	}
}
