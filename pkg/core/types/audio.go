package types

import (
	"fmt"
	"time"
)

// Audio encodings understood by the backends.
const (
	EncodingPCMS16LE = "pcm_s16le"
	EncodingWAV      = "wav"
)

// AudioFormat describes a PCM stream.
type AudioFormat struct {
	Encoding      string `json:"encoding"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

// DefaultAudioFormat is 16 kHz mono signed 16-bit little-endian PCM.
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{
		Encoding:      EncodingPCMS16LE,
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * (f.BitsPerSample / 8)
}

// FrameSize is the size in bytes of one sample across all channels.
func (f AudioFormat) FrameSize() int {
	return f.Channels * (f.BitsPerSample / 8)
}

// BytesForDuration returns the byte count covering d, rounded down to a
// whole frame.
func (f AudioFormat) BytesForDuration(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	if fs := f.FrameSize(); fs > 0 {
		n -= n % fs
	}
	return n
}

// Duration returns the playback duration of n bytes.
func (f AudioFormat) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Validate checks that the format is one the capture channel can produce.
func (f AudioFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", f.Channels)
	}
	if f.BitsPerSample != 16 {
		return fmt.Errorf("only 16-bit samples are supported, got %d", f.BitsPerSample)
	}
	switch f.Encoding {
	case EncodingPCMS16LE, EncodingWAV:
	default:
		return fmt.Errorf("unsupported encoding %q", f.Encoding)
	}
	return nil
}

// ContentType returns the HTTP content type for raw uploads of this format.
func (f AudioFormat) ContentType() string {
	if f.Encoding == EncodingWAV {
		return "audio/wav"
	}
	return fmt.Sprintf("audio/raw;encoding=signed-integer;bits=%d;rate=%d;endian=little", f.BitsPerSample, f.SampleRate)
}
