package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"minwondesk/internal/ports"
)

// ReplayCapture plays a raw s16le PCM file as if it were the microphone, paced
// at the configured sample rate. Every Start replays the file from the top.
type ReplayCapture struct {
	path string
	// pace disables real-time pacing when false.
	pace bool
}

func NewReplayCapture(path string, realtime bool) *ReplayCapture {
	return &ReplayCapture{path: path, pace: realtime}
}

func (c *ReplayCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open replay file: %w", ports.ErrMicrophoneUnavailable, err)
	}
	cfg = withDefaults(cfg)
	return &replaySession{
		file:        file,
		bytesPerSec: cfg.SampleRate * cfg.Channels * 2,
		pace:        c.pace,
		stopped:     make(chan struct{}),
	}, nil
}

type replaySession struct {
	file        *os.File
	bytesPerSec int
	pace        bool

	stopOnce sync.Once
	stopped  chan struct{}
}

func (s *replaySession) Read(p []byte) (int, error) {
	select {
	case <-s.stopped:
		return 0, io.EOF
	default:
	}

	n, err := s.file.Read(p)
	if errors.Is(err, os.ErrClosed) {
		return n, io.EOF
	}
	if n > 0 && s.pace && s.bytesPerSec > 0 {
		wait := time.Duration(n) * time.Second / time.Duration(s.bytesPerSec)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.stopped:
			timer.Stop()
		}
	}
	return n, err
}

func (s *replaySession) Close() error {
	return s.Stop()
}

func (s *replaySession) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopped)
		err = s.file.Close()
	})
	return err
}
