package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/wit-lite/pkg/core/types"
)

// Source opens capture streams.
type Source interface {
	// Open starts capturing. The returned stream must be closed.
	Open(ctx context.Context) (Stream, error)

	// Format describes the PCM the source produces.
	Format() types.AudioFormat
}

// Stream is a live capture.
type Stream interface {
	io.Reader

	// Stop ends capture; buffered audio stays readable, then io.EOF.
	Stop()

	// Close releases the underlying device. It is safe to call more than once.
	Close() error
}

// StaticSource replays a fixed PCM buffer on every Open.
type StaticSource struct {
	PCM         []byte
	AudioFormat types.AudioFormat

	// ChunkSize and Interval pace the replay like a live device. Zero
	// Interval delivers everything immediately.
	ChunkSize int
	Interval  time.Duration
}

// NewStaticSource creates a source over pcm in the default format.
func NewStaticSource(pcm []byte) *StaticSource {
	return &StaticSource{PCM: pcm, AudioFormat: types.DefaultAudioFormat()}
}

// Format implements Source.
func (s *StaticSource) Format() types.AudioFormat {
	if s.AudioFormat.SampleRate == 0 {
		return types.DefaultAudioFormat()
	}
	return s.AudioFormat
}

// Open implements Source.
func (s *StaticSource) Open(ctx context.Context) (Stream, error) {
	if s.Interval <= 0 {
		q := newPCMQueue(0, nil)
		q.push(s.PCM)
		q.stop()
		return &queueStream{q: q}, nil
	}

	chunk := s.ChunkSize
	if chunk <= 0 {
		chunk = s.Format().BytesForDuration(20 * time.Millisecond)
	}
	q := newPCMQueue(0, nil)
	st := &queueStream{q: q, done: make(chan struct{})}
	go func() {
		defer q.stop()
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for off := 0; off < len(s.PCM); off += chunk {
			end := min(off+chunk, len(s.PCM))
			if !q.push(s.PCM[off:end]) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-st.done:
				return
			case <-ticker.C:
			}
		}
	}()
	return st, nil
}

// FileSource reads PCM from a WAV or raw s16le file.
type FileSource struct {
	Path string

	// AudioFormat applies to raw files; WAV files carry their own.
	AudioFormat types.AudioFormat
}

// Format implements Source. For WAV files the header is consulted.
func (s *FileSource) Format() types.AudioFormat {
	if isWAVPath(s.Path) {
		if f, err := os.Open(s.Path); err == nil {
			defer f.Close()
			if format, _, err := ReadWAVHeader(f); err == nil {
				return format
			}
		}
	}
	if s.AudioFormat.SampleRate == 0 {
		return types.DefaultAudioFormat()
	}
	return s.AudioFormat
}

// Open implements Source.
func (s *FileSource) Open(ctx context.Context) (Stream, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	if isWAVPath(s.Path) {
		_, pcm, err := DecodeWAV(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.Path, err)
		}
		data = pcm
	}
	return (&StaticSource{PCM: data, AudioFormat: s.Format()}).Open(ctx)
}

func isWAVPath(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), ".wav")
}

// queueStream adapts a pcmQueue to Stream.
type queueStream struct {
	q    *pcmQueue
	done chan struct{}
	once sync.Once
}

func (s *queueStream) Read(p []byte) (int, error) { return s.q.Read(p) }

func (s *queueStream) Stop() { s.q.stop() }

func (s *queueStream) Close() error {
	s.once.Do(func() {
		s.q.close()
		if s.done != nil {
			close(s.done)
		}
	})
	return nil
}
