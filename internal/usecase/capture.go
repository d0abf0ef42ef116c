package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"minwondesk/internal/domain"
	"minwondesk/internal/logging"
	"minwondesk/internal/ports"
)

const captureStopGrace = 3 * time.Second

// CapturePolicy bounds one capture.
type CapturePolicy struct {
	// MaxDuration is the hard cap; zero disables it.
	MaxDuration time.Duration
	// SilenceTimeout ends the capture when no voiced chunk arrived for this long;
	// zero disables it.
	SilenceTimeout time.Duration
	// SilenceThreshold is the s16 peak a chunk must exceed to count as voiced.
	SilenceThreshold int
}

// Capturer is the microphone side of the dialogue controller.
type Capturer interface {
	Start(ctx context.Context, policy CapturePolicy, onUtterance func(domain.Utterance)) error
	Stop()
	Cancel()
	Capturing() bool
}

// CaptureSession records one utterance at a time from an AudioCapture.
type CaptureSession struct {
	audio     ports.AudioCapture
	cfg       ports.AudioConfig
	chunkSize int
	logger    *zap.Logger

	mu     sync.Mutex
	active *activeCapture
}

type activeCapture struct {
	session     ports.AudioSession
	cancel      context.CancelFunc
	policy      CapturePolicy
	onUtterance func(domain.Utterance)

	buf      bytes.Buffer
	hard     *time.Timer
	silence  *time.Timer
	pumpDone chan struct{}
	finished bool
}

func NewCaptureSession(audio ports.AudioCapture, cfg ports.AudioConfig, chunkSize int, logger *zap.Logger) *CaptureSession {
	if chunkSize < 256 {
		chunkSize = 4096
	}
	return &CaptureSession{
		audio:     audio,
		cfg:       cfg,
		chunkSize: chunkSize,
		logger:    logging.OrNop(logger),
	}
}

// Start opens the microphone. onUtterance runs exactly once per started capture
// unless the capture is cancelled. Starting while already capturing is a no-op.
func (c *CaptureSession) Start(ctx context.Context, policy CapturePolicy, onUtterance func(domain.Utterance)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil
	}

	captureCtx, cancel := context.WithCancel(ctx)
	session, err := c.audio.Start(captureCtx, c.cfg)
	if err != nil {
		cancel()
		if errors.Is(err, ports.ErrMicrophoneUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ports.ErrMicrophoneUnavailable, err)
	}

	active := &activeCapture{
		session:     session,
		cancel:      cancel,
		policy:      policy,
		onUtterance: onUtterance,
		pumpDone:    make(chan struct{}),
	}
	if policy.MaxDuration > 0 {
		active.hard = time.AfterFunc(policy.MaxDuration, func() {
			c.finish(active, domain.CaptureHardTimeout, true, false)
		})
	}
	if policy.SilenceTimeout > 0 {
		active.silence = time.AfterFunc(policy.SilenceTimeout, func() {
			c.finish(active, domain.CaptureSilenceTimeout, true, false)
		})
	}
	c.active = active

	go func() {
		defer close(active.pumpDone)
		err := pumpAudioChunks(session, c.chunkSize, func(chunk []byte) {
			active.buf.Write(chunk)
			if voicedChunk(chunk, policy.SilenceThreshold) {
				c.noteVoiced(active)
			}
		})
		if err != nil {
			c.logger.Warn("capture stream failed", zap.Error(err))
		}
		c.finish(active, domain.CaptureStreamEnded, true, true)
	}()

	return nil
}

// Stop ends the capture and delivers what was recorded. Safe when idle.
func (c *CaptureSession) Stop() {
	if active := c.current(); active != nil {
		c.finish(active, domain.CaptureStopped, true, false)
	}
}

// Cancel ends the capture without delivering an utterance.
func (c *CaptureSession) Cancel() {
	if active := c.current(); active != nil {
		c.finish(active, domain.CaptureStopped, false, false)
	}
}

// Capturing reports whether a capture is open.
func (c *CaptureSession) Capturing() bool {
	return c.current() != nil
}

func (c *CaptureSession) current() *activeCapture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *CaptureSession) noteVoiced(active *activeCapture) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if active.finished || active.silence == nil {
		return
	}
	active.silence.Reset(active.policy.SilenceTimeout)
}

// finish claims the capture, so only the first of stop, cancel, timers and
// stream end reaches onUtterance.
func (c *CaptureSession) finish(active *activeCapture, reason domain.CaptureReason, deliver, fromPump bool) {
	c.mu.Lock()
	if active.finished {
		c.mu.Unlock()
		return
	}
	active.finished = true
	if c.active == active {
		c.active = nil
	}
	if active.hard != nil {
		active.hard.Stop()
	}
	if active.silence != nil {
		active.silence.Stop()
	}
	c.mu.Unlock()

	if !deliver {
		active.cancel()
	}
	if err := active.session.Stop(); err != nil {
		c.logger.Debug("audio capture did not stop cleanly", zap.Error(err))
	}
	if !fromPump {
		waitOrCancel(active.pumpDone, captureStopGrace, active.cancel)
	}
	active.cancel()

	if !deliver || active.onUtterance == nil {
		return
	}
	active.onUtterance(domain.Utterance{
		Audio:  bytes.Clone(active.buf.Bytes()),
		Reason: reason,
	})
}
