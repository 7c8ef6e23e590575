package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/vango-go/wit-lite/pkg/core/types"
)

// MicrophoneConfig configures a Microphone.
type MicrophoneConfig struct {
	// Device selects a capture device by case-insensitive name substring.
	// Empty selects the system default.
	Device string

	Format types.AudioFormat

	// Period is the device callback period. Default 20ms.
	Period time.Duration

	// MaxBuffered bounds audio captured but not yet read. Default 30s.
	MaxBuffered time.Duration

	Logger *slog.Logger

	// OnDrop is called with the byte count of every frame discarded
	// because the reader fell behind.
	OnDrop func(n int)
}

// Microphone captures from a system input device via miniaudio.
type Microphone struct {
	cfg MicrophoneConfig
}

// NewMicrophone creates a microphone source. Nothing is opened until Open.
func NewMicrophone(cfg MicrophoneConfig) *Microphone {
	if cfg.Format.SampleRate == 0 {
		cfg.Format = types.DefaultAudioFormat()
	}
	if cfg.Period <= 0 {
		cfg.Period = 20 * time.Millisecond
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Microphone{cfg: cfg}
}

// Format implements Source.
func (m *Microphone) Format() types.AudioFormat {
	return m.cfg.Format
}

// Device returns the configured device selector.
func (m *Microphone) Device() string {
	return m.cfg.Device
}

// Open implements Source.
func (m *Microphone) Open(ctx context.Context) (Stream, error) {
	if err := m.cfg.Format.Validate(); err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		m.cfg.Logger.Debug("malgo", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.cfg.Format.Channels)
	deviceConfig.SampleRate = uint32(m.cfg.Format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(m.cfg.Period / time.Millisecond)

	if m.cfg.Device != "" {
		info, err := findCaptureDevice(mctx, m.cfg.Device)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return nil, err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
		m.cfg.Logger.Debug("capture device selected", "device", info.Name())
	}

	q := newPCMQueue(m.cfg.Format.BytesForDuration(m.cfg.MaxBuffered), m.cfg.OnDrop)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			q.push(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	return &micStream{q: q, device: device, mctx: mctx, logger: m.cfg.Logger}, nil
}

func findCaptureDevice(mctx *malgo.AllocatedContext, selector string) (malgo.DeviceInfo, error) {
	infos, err := mctx.Context.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("list capture devices: %w", err)
	}
	want := strings.ToLower(selector)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("no capture device matches %q", selector)
}

// CaptureDevices lists the names of available capture devices.
func CaptureDevices() ([]string, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Context.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

type micStream struct {
	q      *pcmQueue
	device *malgo.Device
	mctx   *malgo.AllocatedContext
	logger *slog.Logger

	stopOnce  sync.Once
	closeOnce sync.Once
}

func (s *micStream) Read(p []byte) (int, error) { return s.q.Read(p) }

func (s *micStream) Stop() {
	s.stopOnce.Do(func() {
		if err := s.device.Stop(); err != nil {
			s.logger.Warn("stop capture device", "error", err)
		}
		s.q.stop()
	})
}

func (s *micStream) Close() error {
	s.Stop()
	s.closeOnce.Do(func() {
		if n := s.q.droppedBytes(); n > 0 {
			s.logger.Warn("capture frames dropped", "bytes", n)
		}
		s.q.close()
		s.device.Uninit()
		_ = s.mctx.Uninit()
		s.mctx.Free()
	})
	return nil
}
