package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minwondesk/internal/domain"
	"minwondesk/internal/ports"
)

type utteranceRecorder struct {
	mu         sync.Mutex
	utterances []domain.Utterance
}

func (r *utteranceRecorder) record(u domain.Utterance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utterances = append(r.utterances, u)
}

func (r *utteranceRecorder) all() []domain.Utterance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Utterance(nil), r.utterances...)
}

func loud() []byte  { return []byte{0x00, 0x40, 0x00, 0xc0} }
func quiet() []byte { return []byte{0x05, 0x00, 0xfb, 0xff} }

func TestCaptureStartIsIdempotentAndStopDeliversOnce(t *testing.T) {
	t.Parallel()

	audio := &fakeAudioCapture{}
	capture := NewCaptureSession(audio, ports.AudioConfig{}, 0, nil)
	rec := &utteranceRecorder{}

	require.NoError(t, capture.Start(context.Background(), CapturePolicy{}, rec.record))
	require.NoError(t, capture.Start(context.Background(), CapturePolicy{}, rec.record))
	assert.Equal(t, 1, audio.startCount())
	assert.True(t, capture.Capturing())

	audio.last().chunks <- []byte("pcm-1")
	audio.last().chunks <- []byte("pcm-2")

	capture.Stop()
	capture.Stop()

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, "pcm-1pcm-2", string(got[0].Audio))
	assert.Equal(t, domain.CaptureStopped, got[0].Reason)
	assert.False(t, capture.Capturing())
}

func TestCaptureStopWhenIdleIsSafe(t *testing.T) {
	t.Parallel()

	capture := NewCaptureSession(&fakeAudioCapture{}, ports.AudioConfig{}, 0, nil)
	capture.Stop()
	capture.Cancel()
	assert.False(t, capture.Capturing())
}

func TestCaptureHardTimeout(t *testing.T) {
	t.Parallel()

	capture := NewCaptureSession(&fakeAudioCapture{}, ports.AudioConfig{}, 0, nil)
	rec := &utteranceRecorder{}

	require.NoError(t, capture.Start(context.Background(), CapturePolicy{MaxDuration: 30 * time.Millisecond}, rec.record))
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)

	got := rec.all()[0]
	assert.Equal(t, domain.CaptureHardTimeout, got.Reason)
	assert.True(t, got.Empty())
	assert.False(t, capture.Capturing())
}

func TestCaptureSilenceTimeoutWaitsForQuiet(t *testing.T) {
	t.Parallel()

	audio := &fakeAudioCapture{}
	capture := NewCaptureSession(audio, ports.AudioConfig{}, 0, nil)
	rec := &utteranceRecorder{}

	policy := CapturePolicy{SilenceTimeout: 120 * time.Millisecond, SilenceThreshold: 1000}
	require.NoError(t, capture.Start(context.Background(), policy, rec.record))

	session := audio.last()
	for i := 0; i < 6; i++ {
		session.chunks <- loud()
		time.Sleep(30 * time.Millisecond)
	}
	assert.Empty(t, rec.all(), "voiced chunks must keep the capture open")

	session.chunks <- quiet()
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	got := rec.all()[0]
	assert.Equal(t, domain.CaptureSilenceTimeout, got.Reason)
	assert.Len(t, got.Audio, 7*4)
}

func TestCaptureCancelDiscards(t *testing.T) {
	t.Parallel()

	audio := &fakeAudioCapture{}
	capture := NewCaptureSession(audio, ports.AudioConfig{}, 0, nil)
	rec := &utteranceRecorder{}

	require.NoError(t, capture.Start(context.Background(), CapturePolicy{MaxDuration: 20 * time.Millisecond}, rec.record))
	capture.Cancel()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.all())
	assert.False(t, capture.Capturing())
	assert.GreaterOrEqual(t, audio.last().stopCalls.Load(), int32(1))
}

func TestCaptureStreamEnd(t *testing.T) {
	t.Parallel()

	audio := &fakeAudioCapture{}
	capture := NewCaptureSession(audio, ports.AudioConfig{}, 0, nil)
	rec := &utteranceRecorder{}

	require.NoError(t, capture.Start(context.Background(), CapturePolicy{}, rec.record))
	session := audio.last()
	session.chunks <- []byte("tail")
	close(session.chunks)

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.CaptureStreamEnded, rec.all()[0].Reason)
	assert.Equal(t, "tail", string(rec.all()[0].Audio))

	// a new capture can start after the stream ended
	require.NoError(t, capture.Start(context.Background(), CapturePolicy{}, rec.record))
	assert.Equal(t, 2, audio.startCount())
	capture.Cancel()
}

func TestCaptureStartFailureIsMicrophoneUnavailable(t *testing.T) {
	t.Parallel()

	capture := NewCaptureSession(&fakeAudioCapture{err: errors.New("no device")}, ports.AudioConfig{}, 0, nil)
	err := capture.Start(context.Background(), CapturePolicy{}, func(domain.Utterance) {})

	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrMicrophoneUnavailable)
	assert.False(t, capture.Capturing())
}

func TestVoicedChunk(t *testing.T) {
	t.Parallel()

	assert.False(t, voicedChunk(nil, 0))
	assert.True(t, voicedChunk(quiet(), 0))
	assert.False(t, voicedChunk(quiet(), 1000))
	assert.True(t, voicedChunk(loud(), 1000))
	// 0xc000 is -16384
	assert.True(t, voicedChunk([]byte{0x00, 0xc0}, 16000))
}
