package usecase

import (
	"errors"
	"fmt"
	"io"
	"time"

	"minwondesk/internal/ports"
)

// pumpAudioChunks reads audio until the session ends and hands every chunk to
// sink. It returns nil on a clean end of stream.
func pumpAudioChunks(audio ports.AudioSession, chunkSize int, sink func(chunk []byte)) error {
	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			sink(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("audio capture error: %w", err)
		}
	}
}

// voicedChunk reports whether a little-endian s16 PCM chunk carries sound above
// threshold. A zero threshold counts every non-empty chunk.
func voicedChunk(chunk []byte, threshold int) bool {
	if len(chunk) == 0 {
		return false
	}
	if threshold <= 0 {
		return true
	}
	for i := 0; i+1 < len(chunk); i += 2 {
		sample := int(int16(uint16(chunk[i]) | uint16(chunk[i+1])<<8))
		if sample < 0 {
			sample = -sample
		}
		if sample > threshold {
			return true
		}
	}
	return false
}

// waitOrCancel waits for done, falling back to cancel once grace has elapsed.
func waitOrCancel(done <-chan struct{}, grace time.Duration, cancel func()) {
	select {
	case <-done:
		return
	case <-time.After(grace):
		cancel()
		<-done
	}
}
