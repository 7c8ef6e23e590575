package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vango-go/wit-lite/pkg/core/types"
)

// EncodeWAV wraps PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, format types.AudioFormat) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	byteRate := uint32(format.BytesPerSecond())
	blockAlign := uint16(format.FrameSize())

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.BitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

var errNotWAV = errors.New("not a RIFF/WAVE stream")

// ReadWAVHeader parses chunks up to the start of the data chunk and returns
// the format and the data length.
func ReadWAVHeader(r io.Reader) (types.AudioFormat, int, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return types.AudioFormat{}, 0, fmt.Errorf("wav header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return types.AudioFormat{}, 0, errNotWAV
	}

	var format types.AudioFormat
	var haveFmt bool
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return types.AudioFormat{}, 0, fmt.Errorf("wav chunk: %w", err)
		}
		id := string(ch[0:4])
		size := int(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return types.AudioFormat{}, 0, fmt.Errorf("wav fmt: %w", err)
			}
			if size < 16 {
				return types.AudioFormat{}, 0, fmt.Errorf("wav fmt chunk too short (%d)", size)
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != 1 {
				return types.AudioFormat{}, 0, fmt.Errorf("unsupported wav format tag %d", tag)
			}
			format = types.AudioFormat{
				Encoding:      types.EncodingPCMS16LE,
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return types.AudioFormat{}, 0, errors.New("wav data chunk before fmt chunk")
			}
			return format, size, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return types.AudioFormat{}, 0, fmt.Errorf("wav skip %q: %w", id, err)
			}
		}
	}
}

// DecodeWAV returns the format and PCM payload of a WAV stream.
func DecodeWAV(r io.Reader) (types.AudioFormat, []byte, error) {
	format, size, err := ReadWAVHeader(r)
	if err != nil {
		return types.AudioFormat{}, nil, err
	}
	pcm, err := io.ReadAll(io.LimitReader(r, int64(size)))
	if err != nil {
		return types.AudioFormat{}, nil, err
	}
	return format, pcm, nil
}
