package ports

import (
	"context"
	"errors"
	"io"
	"time"

	"minwondesk/internal/domain"
)

// ErrMicrophoneUnavailable is returned when capture cannot open the input device,
// including when the OS denies microphone permission.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable or permission denied")

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// Transcriber turns one captured utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Speaker plays a prompt and returns once playback finishes. A new call cancels
// whatever is still playing.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// ComplaintStore receives the finished complaint record.
type ComplaintStore interface {
	Submit(ctx context.Context, complaint domain.Complaint) error
}

// TranscriptNormalizer rewrites recognized text before it is interpreted.
type TranscriptNormalizer interface {
	Apply(text string) (string, error)
}

// EventSink emits controller state/events to the UI.
type EventSink interface {
	StageChanged(snapshot domain.Snapshot, reason domain.StageReason)
	PromptIssued(prompt domain.Prompt)
	CaptureChanged(capturing bool)
	CountdownStarted(stage domain.Stage, duration time.Duration)
	SessionError(code domain.ErrorCode, detail string)
}
