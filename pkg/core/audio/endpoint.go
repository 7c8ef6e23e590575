package audio

import (
	"io"
	"sync"
	"time"

	"github.com/vango-go/wit-lite/pkg/core/types"
)

// EndpointReason explains why an Endpointer ended its stream.
type EndpointReason int

const (
	EndpointNone EndpointReason = iota
	// EndpointSilence: speech was heard and then trailing silence.
	EndpointSilence
	// EndpointMaxDuration: the hard cap on capture length was hit.
	EndpointMaxDuration
	// EndpointInputEnded: the underlying stream ended on its own.
	EndpointInputEnded
)

// String returns a human-readable reason.
func (r EndpointReason) String() string {
	switch r {
	case EndpointNone:
		return "none"
	case EndpointSilence:
		return "silence"
	case EndpointMaxDuration:
		return "max_duration"
	case EndpointInputEnded:
		return "input_ended"
	default:
		return "unknown"
	}
}

// EndpointConfig tunes silence detection.
type EndpointConfig struct {
	// EnergyThreshold is the RMS level (0..1) at or above which a window
	// counts as speech.
	EnergyThreshold float64 `json:"energy_threshold"`
	// MinSpeech is how long energy must stay above threshold before
	// trailing silence can end the query.
	MinSpeech time.Duration `json:"min_speech"`
	// Silence is the trailing silence that ends the query.
	Silence time.Duration `json:"silence"`
	// MaxDuration caps total capture, speech or not.
	MaxDuration time.Duration `json:"max_duration"`
	// Window is the analysis granularity. Default 20ms.
	Window time.Duration `json:"window"`
}

// DefaultEndpointConfig returns the defaults used by voice auto queries.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		EnergyThreshold: 0.02,
		MinSpeech:       100 * time.Millisecond,
		Silence:         800 * time.Millisecond,
		MaxDuration:     10 * time.Second,
		Window:          20 * time.Millisecond,
	}
}

func (c EndpointConfig) withDefaults() EndpointConfig {
	d := DefaultEndpointConfig()
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = d.EnergyThreshold
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = d.MinSpeech
	}
	if c.Silence <= 0 {
		c.Silence = d.Silence
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	return c
}

// Endpointer wraps a Stream and ends it (io.EOF) once speech has been
// followed by enough silence, or the duration cap is reached. Audio after
// the endpoint is not delivered, and the source is stopped.
type Endpointer struct {
	src Stream

	window     int
	minSpeech  int
	silence    int
	maxBytes   int
	threshold  float64
	onEndpoint func(EndpointReason)

	mu         sync.Mutex
	pending    []byte
	total      int
	speechRun  int
	silenceRun int
	speaking   bool
	reason     EndpointReason
}

// NewEndpointer wraps src, which produces audio in format.
func NewEndpointer(src Stream, format types.AudioFormat, cfg EndpointConfig) *Endpointer {
	cfg = cfg.withDefaults()
	window := format.BytesForDuration(cfg.Window)
	if window <= 0 {
		window = 2
	}
	return &Endpointer{
		src:       src,
		window:    window,
		minSpeech: format.BytesForDuration(cfg.MinSpeech),
		silence:   format.BytesForDuration(cfg.Silence),
		maxBytes:  format.BytesForDuration(cfg.MaxDuration),
		threshold: cfg.EnergyThreshold,
	}
}

// OnEndpoint registers fn to run once when the endpoint is detected.
func (e *Endpointer) OnEndpoint(fn func(EndpointReason)) {
	e.mu.Lock()
	e.onEndpoint = fn
	e.mu.Unlock()
}

// Reason returns why the stream ended, or EndpointNone while it is live.
func (e *Endpointer) Reason() EndpointReason {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

// Read implements io.Reader.
func (e *Endpointer) Read(p []byte) (int, error) {
	if e.Reason() != EndpointNone {
		return 0, io.EOF
	}

	n, err := e.src.Read(p)
	if n > 0 {
		keep, reason := e.analyze(p[:n])
		if reason != EndpointNone {
			e.finish(reason)
			e.src.Stop()
			if keep == 0 {
				return 0, io.EOF
			}
			return keep, nil
		}
	}
	if err == io.EOF {
		e.finish(EndpointInputEnded)
	}
	return n, err
}

// analyze consumes chunk window by window and returns how many bytes of
// chunk precede the endpoint, if one was found.
func (e *Endpointer) analyze(chunk []byte) (int, EndpointReason) {
	e.mu.Lock()
	defer e.mu.Unlock()

	carried := len(e.pending)
	e.pending = append(e.pending, chunk...)

	off := 0
	reason := EndpointNone
	for len(e.pending)-off >= e.window {
		w := e.pending[off : off+e.window]
		off += e.window
		e.total += len(w)

		if RMSEnergy(w) >= e.threshold {
			e.speechRun += len(w)
			e.silenceRun = 0
			if e.speechRun >= e.minSpeech {
				e.speaking = true
			}
		} else {
			if !e.speaking {
				e.speechRun = 0
			} else {
				e.silenceRun += len(w)
				if e.silenceRun >= e.silence {
					reason = EndpointSilence
				}
			}
		}
		if reason == EndpointNone && e.maxBytes > 0 && e.total >= e.maxBytes {
			reason = EndpointMaxDuration
		}
		if reason != EndpointNone {
			return max(off-carried, 0), reason
		}
	}

	e.pending = append(e.pending[:0], e.pending[off:]...)
	return len(chunk), EndpointNone
}

func (e *Endpointer) finish(reason EndpointReason) {
	e.mu.Lock()
	if e.reason != EndpointNone {
		e.mu.Unlock()
		return
	}
	e.reason = reason
	e.pending = nil
	fn := e.onEndpoint
	e.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// Stop implements Stream.
func (e *Endpointer) Stop() { e.src.Stop() }

// Close implements Stream.
func (e *Endpointer) Close() error { return e.src.Close() }
