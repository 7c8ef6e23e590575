package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/wit-lite/pkg/config"
	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/audio"
	"github.com/vango-go/wit-lite/pkg/core/types"
	"github.com/vango-go/wit-lite/pkg/journal"
)

// syncBuffer is a bytes.Buffer safe for the client's background logging.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type cliBackend struct {
	mu     sync.Mutex
	tokens []string
}

func (b *cliBackend) Name() string { return "cli-fake" }

func (b *cliBackend) TextQuery(_ context.Context, text, token string) (*types.Response, error) {
	b.mu.Lock()
	b.tokens = append(b.tokens, token)
	b.mu.Unlock()
	if text == "nothing" {
		return nil, nil
	}
	return types.NewResponse(fmt.Sprintf(`{"text":%q}`, text)), nil
}

func (b *cliBackend) VoiceQuery(_ context.Context, r io.Reader, _ types.AudioFormat, _ string) (*types.Response, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return nil, err
	}
	return types.NewResponse(fmt.Sprintf(`{"bytes":%d}`, n)), nil
}

func (b *cliBackend) lastToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.tokens) == 0 {
		return ""
	}
	return b.tokens[len(b.tokens)-1]
}

func testConfig() config.Config {
	return config.Config{
		Backend:               config.BackendWitAI,
		AccessToken:           "env-token",
		WitBaseURL:            "http://127.0.0.1:1",
		BackendConnectTimeout: time.Second,
		Verbosity:             0,
		SampleRate:            16000,
		EndpointThreshold:     0.02,
		EndpointMinSpeech:     50 * time.Millisecond,
		EndpointSilence:       200 * time.Millisecond,
		EndpointMaxDuration:   5 * time.Second,
		CallbackQueue:         8,
		CallbackInvokers:      1,
		Addr:                  "127.0.0.1:0",
		MaxBodyBytes:          1 << 10,
		ResultTTL:             time.Minute,
		ReadHeaderTimeout:     time.Second,
		ReadTimeout:           time.Second,
		ShutdownGracePeriod:   2 * time.Second,
	}
}

func testDeps(t *testing.T, cfg config.Config, b *cliBackend) cliDeps {
	t.Helper()
	return cliDeps{
		loadConfig: func() (config.Config, error) { return cfg, nil },
		newBackend: func(config.Config, func(int)) (core.Backend, error) { return b, nil },
		openJournal: func(context.Context, string) (*journal.Store, error) {
			return nil, errors.New("journal unavailable in tests")
		},
		migrate: func(context.Context, string, *slog.Logger) error {
			t.Fatal("migrate should not be called")
			return nil
		},
		captureDevices: func() ([]string, error) { return []string{"Built-in Microphone", "USB Headset"}, nil },
		stdin:          strings.NewReader("\n"),
		signalNotify:   func(chan<- os.Signal, ...os.Signal) {},
		signalStop:     func(chan<- os.Signal) {},
	}
}

func run(t *testing.T, deps cliDeps, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr syncBuffer
	args = append([]string{"--env-file", ""}, args...)
	code := runMain(context.Background(), args, &stdout, &stderr, deps)
	return code, stdout.String(), stderr.String()
}

func writeToneWAV(t *testing.T, d time.Duration) string {
	t.Helper()
	format := types.DefaultAudioFormat()
	n := format.BytesForDuration(d) / 2
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(format.SampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, format), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	deps := testDeps(t, testConfig(), &cliBackend{})
	deps.loadConfig = func() (config.Config, error) { return config.Config{}, errors.New("boom") }

	code, _, stderr := run(t, deps, "text", "hi")
	if code != 1 {
		t.Fatalf("exitCode=%d, want 1", code)
	}
	if !strings.Contains(stderr, "boom") {
		t.Fatalf("stderr=%q", stderr)
	}
}

func TestRunMain_TextQuery(t *testing.T) {
	b := &cliBackend{}
	code, stdout, stderr := run(t, testDeps(t, testConfig(), b), "text", "turn", "on", "the", "lights")
	if code != 0 {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, `"text": "turn on the lights"`) {
		t.Fatalf("stdout=%q", stdout)
	}
	if b.lastToken() != "env-token" {
		t.Fatalf("token=%q, want env-token", b.lastToken())
	}
}

func TestRunMain_TextQueryEmptyPrintsNothing(t *testing.T) {
	code, stdout, stderr := run(t, testDeps(t, testConfig(), &cliBackend{}), "text", "nothing")
	if code != 0 {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr)
	}
	if stdout != "" {
		t.Fatalf("stdout=%q, want empty", stdout)
	}
}

func TestRunMain_TextQueryAsync(t *testing.T) {
	code, stdout, stderr := run(t, testDeps(t, testConfig(), &cliBackend{}), "text", "--async", "later")
	if code != 0 {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, `"text": "later"`) {
		t.Fatalf("stdout=%q", stdout)
	}
}

func TestRunMain_FlagsOverrideEnv(t *testing.T) {
	b := &cliBackend{}
	code, _, stderr := run(t, testDeps(t, testConfig(), b), "--token", "flag-token", "text", "hi")
	if code != 0 {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr)
	}
	if b.lastToken() != "flag-token" {
		t.Fatalf("token=%q, want flag-token", b.lastToken())
	}
}

func TestRunMain_InvalidBackendFlag(t *testing.T) {
	code, _, stderr := run(t, testDeps(t, testConfig(), &cliBackend{}), "--backend", "nope", "text", "hi")
	if code != 1 || !strings.Contains(stderr, "WIT_BACKEND") {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr)
	}
}

func TestRunMain_TextRequiresArgs(t *testing.T) {
	code, _, _ := run(t, testDeps(t, testConfig(), &cliBackend{}), "text")
	if code != 1 {
		t.Fatalf("exitCode=%d, want 1", code)
	}
}

func TestRunMain_VoiceFromFile(t *testing.T) {
	path := writeToneWAV(t, 250*time.Millisecond)
	want := types.DefaultAudioFormat().BytesForDuration(250 * time.Millisecond)

	for _, async := range []bool{false, true} {
		t.Run(fmt.Sprintf("async=%v", async), func(t *testing.T) {
			args := []string{"--audio-file", path, "voice"}
			if async {
				args = append(args, "--async")
			}
			code, stdout, stderr := run(t, testDeps(t, testConfig(), &cliBackend{}), args...)
			if code != 0 {
				t.Fatalf("exitCode=%d stderr=%q", code, stderr)
			}
			if !strings.Contains(stdout, fmt.Sprintf(`"bytes": %d`, want)) {
				t.Fatalf("stdout=%q, want %d bytes", stdout, want)
			}
			if !strings.Contains(stderr, "press Enter") {
				t.Fatalf("stderr=%q", stderr)
			}
		})
	}
}

func TestRunMain_AutoFromFile(t *testing.T) {
	path := writeToneWAV(t, 300*time.Millisecond)
	code, stdout, stderr := run(t, testDeps(t, testConfig(), &cliBackend{}), "--audio-file", path, "auto")
	if code != 0 {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, `"bytes":`) {
		t.Fatalf("stdout=%q", stdout)
	}
}

func TestRunMain_MissingAudioFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.raw")
	code, _, stderr := run(t, testDeps(t, testConfig(), &cliBackend{}), "--audio-file", missing, "auto")
	if code != 1 || !strings.Contains(stderr, "capture") {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr)
	}
}

func TestRunMain_Devices(t *testing.T) {
	code, stdout, _ := run(t, testDeps(t, testConfig(), &cliBackend{}), "devices")
	if code != 0 {
		t.Fatalf("exitCode=%d", code)
	}
	if stdout != "Built-in Microphone\nUSB Headset\n" {
		t.Fatalf("stdout=%q", stdout)
	}
}

func TestRunMain_JournalCommandsNeedDatabase(t *testing.T) {
	for _, name := range []string{"history", "migrate"} {
		t.Run(name, func(t *testing.T) {
			code, _, stderr := run(t, testDeps(t, testConfig(), &cliBackend{}), name)
			if code != 1 || !strings.Contains(stderr, "WIT_DATABASE_URL") {
				t.Fatalf("exitCode=%d stderr=%q", code, stderr)
			}
		})
	}
}

func TestRunMain_MigrateUsesDatabaseURL(t *testing.T) {
	cfg := testConfig()
	cfg.DatabaseURL = "postgres://wit@localhost/wit"
	deps := testDeps(t, cfg, &cliBackend{})
	var got string
	deps.migrate = func(_ context.Context, url string, _ *slog.Logger) error {
		got = url
		return nil
	}

	code, _, stderr := run(t, deps, "migrate")
	if code != 0 {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr)
	}
	if got != cfg.DatabaseURL {
		t.Fatalf("migrate url=%q", got)
	}
}

func TestRunMain_JournalOpenFailureIsReported(t *testing.T) {
	cfg := testConfig()
	cfg.DatabaseURL = "postgres://wit@localhost/wit"
	code, _, stderr := run(t, testDeps(t, cfg, &cliBackend{}), "text", "hi")
	if code != 1 || !strings.Contains(stderr, "open journal") {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func TestRunMain_ServeStopsOnSignal(t *testing.T) {
	deps := testDeps(t, testConfig(), &cliBackend{})
	deps.signalNotify = func(c chan<- os.Signal, _ ...os.Signal) {
		go func() { c <- os.Interrupt }()
	}

	done := make(chan int, 1)
	var stderr syncBuffer
	go func() {
		done <- runMain(context.Background(), []string{"--env-file", "", "serve"}, io.Discard, &stderr, deps)
	}()

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("exitCode=%d stderr=%q", code, stderr.String())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after signal")
	}
}

func TestRunMain_BackendHelpListsRegisteredBackends(t *testing.T) {
	code, stdout, _ := run(t, testDeps(t, testConfig(), &cliBackend{}), "--help")
	if code != 0 {
		t.Fatalf("exitCode=%d", code)
	}
	if !strings.Contains(stdout, "backend to use: gemini, relay, witai") {
		t.Fatalf("help=%q", stdout)
	}
}
