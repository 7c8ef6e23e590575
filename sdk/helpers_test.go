package wit

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/wit-lite/pkg/core/dispatch"
	"github.com/vango-go/wit-lite/pkg/core/types"
	"github.com/vango-go/wit-lite/pkg/journal"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend answers text queries with textFn and voice queries with a
// digest of the audio it read.
type fakeBackend struct {
	textFn func(ctx context.Context, text, token string) (*types.Response, error)

	textCalls  atomic.Int64
	voiceCalls atomic.Int64
	lastAudio  atomic.Int64
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) TextQuery(ctx context.Context, text, token string) (*types.Response, error) {
	b.textCalls.Add(1)
	if b.textFn != nil {
		return b.textFn(ctx, text, token)
	}
	return types.NewResponse(fmt.Sprintf(`{"text":%q}`, text)), nil
}

func (b *fakeBackend) VoiceQuery(ctx context.Context, r io.Reader, format types.AudioFormat, token string) (*types.Response, error) {
	b.voiceCalls.Add(1)
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.lastAudio.Store(n)
	if n == 0 {
		return nil, nil
	}
	return types.NewResponse(fmt.Sprintf(`{"bytes":%d,"sha256":"%x","rate":%d}`, n, h.Sum(nil), format.SampleRate)), nil
}

// blockingText returns a textFn that waits for release or ctx.
func blockingText(release <-chan struct{}) func(context.Context, string, string) (*types.Response, error) {
	return func(ctx context.Context, text, _ string) (*types.Response, error) {
		select {
		case <-release:
			return types.NewResponse(fmt.Sprintf(`{"text":%q}`, text)), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// recordingJournal keeps entries in memory.
type recordingJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	err     error
}

func (j *recordingJournal) Record(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, e)
	return nil
}

func (j *recordingJournal) snapshot() []journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Entry(nil), j.entries...)
}

var errJournalDown = errors.New("journal down")

// tone returns d of a 440 Hz sine at amplitude amp (0..1), 16 kHz mono s16le.
func tone(d time.Duration, amp float64) []byte {
	f := types.DefaultAudioFormat()
	samples := f.BytesForDuration(d) / 2
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amp * math.Sin(2*math.Pi*440*float64(i)/float64(f.SampleRate))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}

func silence(d time.Duration) []byte {
	return make([]byte, types.DefaultAudioFormat().BytesForDuration(d))
}

func newTestClient(t *testing.T, opts ...ClientOption) *Client {
	t.Helper()
	base := []ClientOption{WithLogger(quietLogger())}
	c, err := Init(append(base, opts...)...)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func closeClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

// results collects callback invocations.
type results struct {
	ch chan dispatch.Result
}

func newResults(n int) *results {
	return &results{ch: make(chan dispatch.Result, n)}
}

func (r *results) Invoke(res dispatch.Result) { r.ch <- res }

func (r *results) next(t *testing.T) dispatch.Result {
	t.Helper()
	select {
	case res := <-r.ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
		return dispatch.Result{}
	}
}

func (r *results) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case res := <-r.ch:
		t.Fatalf("unexpected callback: %+v", res)
	case <-time.After(wait):
	}
}
