package capture

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudioHost is the production Host backed by PortAudio. Initialize
// once per process; Close terminates the library.
type PortAudioHost struct{}

func NewPortAudioHost() (*PortAudioHost, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &PortAudioHost{}, nil
}

func (h *PortAudioHost) Devices() ([]DeviceInfo, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	defaultIn, _ := portaudio.DefaultInputDevice()
	out := make([]DeviceInfo, 0, len(all))
	for i, d := range all {
		out = append(out, DeviceInfo{
			Index:         i,
			Name:          d.Name,
			InputChannels: d.MaxInputChannels,
			Default:       defaultIn != nil && d == defaultIn,
		})
	}
	return out, nil
}

func (h *PortAudioHost) Open(cfg StreamConfig) (Stream, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if cfg.DeviceIndex < 0 || cfg.DeviceIndex >= len(all) {
		return nil, fmt.Errorf("device index %d out of range", cfg.DeviceIndex)
	}
	params := portaudio.LowLatencyParameters(all[cfg.DeviceIndex], nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSize

	buf := make([]int16, cfg.FrameSize*cfg.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, err
	}
	return &portAudioStream{stream: stream, buf: buf}, nil
}

func (h *PortAudioHost) Close() error {
	return portaudio.Terminate()
}

// portAudioStream copies out of the buffer registered with PortAudio so
// callers own their frames.
type portAudioStream struct {
	stream *portaudio.Stream
	buf    []int16
}

func (s *portAudioStream) Start() error { return s.stream.Start() }

func (s *portAudioStream) Read(out []int16) error {
	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return ErrInputOverflow
		}
		return err
	}
	copy(out, s.buf)
	return nil
}

func (s *portAudioStream) Stop() error  { return s.stream.Stop() }
func (s *portAudioStream) Close() error { return s.stream.Close() }
