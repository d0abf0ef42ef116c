package speech

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandSpeakerWritesPromptToStdin(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "spoken.txt")
	script := writeScript(t, dir, "say.sh", "#!/usr/bin/env bash\ncat > \""+out+"\"\n")

	speaker := NewCommandSpeaker(script)
	require.NoError(t, speaker.Speak(context.Background(), "민원 유형을 선택해 주세요."))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "민원 유형을 선택해 주세요.", string(got))
}

func TestCommandSpeakerReportsFailure(t *testing.T) {
	t.Parallel()

	script := writeScript(t, t.TempDir(), "fail.sh", "#!/usr/bin/env bash\necho 'no voice ko' 1>&2\nexit 3\n")
	err := NewCommandSpeaker(script).Speak(context.Background(), "안녕하세요")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no voice ko")
	assert.False(t, IsInterrupted(err), "command failure must not look like an interruption")
}

func TestCommandSpeakerNewPromptInterruptsPrevious(t *testing.T) {
	t.Parallel()

	script := writeScript(t, t.TempDir(), "slow.sh", "#!/usr/bin/env bash\ncat > /dev/null\nsleep 5\n")
	speaker := NewCommandSpeaker(script)

	first := make(chan error, 1)
	go func() { first <- speaker.Speak(context.Background(), "첫 번째") }()
	time.Sleep(150 * time.Millisecond)

	second := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		second <- speaker.Speak(ctx, "두 번째")
	}()

	select {
	case err := <-first:
		assert.True(t, IsInterrupted(err), "expected first prompt to be interrupted, got %v", err)
	case <-time.After(3 * time.Second):
		t.Fatalf("first prompt was not interrupted")
	}
	select {
	case err := <-second:
		assert.Error(t, err, "expected second prompt to stop at its deadline")
	case <-time.After(3 * time.Second):
		t.Fatalf("second prompt did not honor its context")
	}
}

func TestCommandSpeakerStartsAfterPreviousProcessExits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	overlapFile := filepath.Join(dir, "overlap")
	script := writeScript(t, dir, "tts.sh", "#!/usr/bin/env bash\n"+
		"cat > /dev/null\n"+
		"if [ -f \""+pidFile+"\" ] && kill -0 \"$(cat \""+pidFile+"\")\" 2>/dev/null; then touch \""+overlapFile+"\"; fi\n"+
		"echo $$ > \""+pidFile+"\"\n"+
		"exec sleep 5\n")
	speaker := NewCommandSpeaker(script)

	first := make(chan error, 1)
	go func() { first <- speaker.Speak(context.Background(), "첫 번째") }()
	var firstPID string
	require.Eventually(t, func() bool {
		firstPID = readPID(pidFile)
		return firstPID != ""
	}, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() { second <- speaker.Speak(ctx, "두 번째") }()

	require.Eventually(t, func() bool {
		pid := readPID(pidFile)
		return pid != "" && pid != firstPID
	}, 3*time.Second, 10*time.Millisecond, "second prompt never started")
	cancel()

	assert.True(t, IsInterrupted(<-first))
	assert.True(t, IsInterrupted(<-second))
	assert.NoFileExists(t, overlapFile, "second prompt started while the first was still running")
}

func TestCommandSpeakerSkipsBlankText(t *testing.T) {
	t.Parallel()

	speaker := NewCommandSpeaker(filepath.Join(t.TempDir(), "missing"))
	assert.NoError(t, speaker.Speak(context.Background(), "   "), "blank prompt should be skipped")
}

func TestTextSpeaker(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	speaker := NewTextSpeaker(&buf, "민원봇> ")
	require.NoError(t, speaker.Speak(context.Background(), "접수되었습니다."))
	assert.Equal(t, "민원봇> 접수되었습니다.\n", buf.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, IsInterrupted(speaker.Speak(ctx, "무시")), "expected cancelled context error")
}

func writeScript(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o700))
	return path
}

func readPID(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
