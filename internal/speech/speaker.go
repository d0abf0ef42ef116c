// Package speech plays assistant prompts.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// CommandSpeaker speaks through a TTS command such as espeak-ng. The prompt is
// written to the command's stdin. Starting a new prompt cancels the one still
// playing and waits for its process to exit, so two prompts never overlap.
type CommandSpeaker struct {
	command string
	args    []string

	mu      sync.Mutex
	current *playback
}

type playback struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCommandSpeaker(command string, args ...string) *CommandSpeaker {
	if strings.TrimSpace(command) == "" {
		command = "espeak-ng"
		if len(args) == 0 {
			args = []string{"-v", "ko", "--stdin"}
		}
	}
	return &CommandSpeaker{command: command, args: args}
}

// Speak blocks until playback finishes or ctx is cancelled.
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	mine := &playback{cancel: cancel, done: make(chan struct{})}
	prev := s.replace(mine)
	defer s.release(mine)

	if prev != nil {
		<-prev.done
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	cmd.WaitDelay = 500 * time.Millisecond

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("speech command %q failed: %w: %s", s.command, err, detail)
		}
		return fmt.Errorf("speech command %q failed: %w", s.command, err)
	}
	return nil
}

// replace installs next as the current playback and cancels the previous one,
// which it returns.
func (s *CommandSpeaker) replace(next *playback) *playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	if prev != nil {
		prev.cancel()
	}
	s.current = next
	return prev
}

func (s *CommandSpeaker) release(p *playback) {
	p.cancel()
	close(p.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == p {
		s.current = nil
	}
}

// TextSpeaker writes prompts to a writer, for console sessions and tests.
type TextSpeaker struct {
	mu     sync.Mutex
	out    io.Writer
	prefix string
}

func NewTextSpeaker(out io.Writer, prefix string) *TextSpeaker {
	return &TextSpeaker{out: out, prefix: prefix}
}

func (s *TextSpeaker) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.out, "%s%s\n", s.prefix, text); err != nil {
		return fmt.Errorf("failed to write prompt: %w", err)
	}
	return nil
}

// Silent discards prompts.
type Silent struct{}

func (Silent) Speak(context.Context, string) error { return nil }

// IsInterrupted reports whether err came from a prompt being cut off by a newer
// one or by the caller.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
