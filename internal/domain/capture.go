package domain

// CaptureReason records why a capture ended.
type CaptureReason string

const (
	CaptureStopped        CaptureReason = "stopped"
	CaptureHardTimeout    CaptureReason = "hard_timeout"
	CaptureSilenceTimeout CaptureReason = "silence_timeout"
	CaptureStreamEnded    CaptureReason = "stream_ended"
)

// Utterance is the raw audio produced by one capture session.
type Utterance struct {
	Audio  []byte
	Reason CaptureReason
}

// Empty reports whether no audio was captured.
func (u Utterance) Empty() bool {
	return len(u.Audio) == 0
}
