package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"minwondesk/internal/bootstrap"
	"minwondesk/internal/domain"
	"minwondesk/internal/logging"
	"minwondesk/internal/speech"
	"minwondesk/internal/usecase"
)

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Drive the dialogue with typed input from stdin",
		Long: `console runs the dialogue without microphone input. Prompts are printed
instead of spoken. Commands:

  /start            begin a session
  /choose <option>  press a button (personal, public, yes, no, acknowledge)
  /stop             finish the current capture
  /reset            abandon the session
  /quit             exit
  anything else     typed answer for the current stage`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Session.VoiceInput = false

			logger, err := logging.New("warn", "console")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			services, err := bootstrap.Build(ctx, cfg, bootstrap.Options{
				Events:     newConsoleSink(out),
				Speaker:    speech.NewTextSpeaker(out, "민원봇> "),
				Registerer: prometheus.NewRegistry(),
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			defer services.Close()

			return runConsole(ctx, services.Controller, cmd.InOrStdin(), out, logger)
		},
	}
}

type consoleAction int

const (
	actionText consoleAction = iota
	actionStart
	actionChoose
	actionStop
	actionReset
	actionQuit
	actionSkip
)

type consoleLine struct {
	action consoleAction
	value  string
}

func parseConsoleLine(line string) (consoleLine, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return consoleLine{action: actionSkip}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return consoleLine{action: actionText, value: line}, nil
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "/start":
		return consoleLine{action: actionStart}, nil
	case "/choose":
		if arg == "" {
			return consoleLine{}, fmt.Errorf("usage: /choose <option>")
		}
		return consoleLine{action: actionChoose, value: arg}, nil
	case "/stop":
		return consoleLine{action: actionStop}, nil
	case "/reset":
		return consoleLine{action: actionReset}, nil
	case "/quit", "/exit":
		return consoleLine{action: actionQuit}, nil
	default:
		return consoleLine{}, fmt.Errorf("unknown command %s", name)
	}
}

func runConsole(ctx context.Context, controller *usecase.DialogueController, in io.Reader, out io.Writer, logger *zap.Logger) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- controller.Run(runCtx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-runCtx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, "/start 로 민원 접수를 시작합니다. /quit 로 종료합니다.")
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case raw, ok := <-lines:
			if !ok {
				break loop
			}
			parsed, err := parseConsoleLine(raw)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if parsed.action == actionQuit {
				break loop
			}
			if err := dispatchConsole(runCtx, controller, parsed); err != nil {
				logger.Warn("console command failed", zap.Error(err))
				fmt.Fprintln(out, "오류:", err)
			}
		}
	}

	cancel()
	return <-done
}

func dispatchConsole(ctx context.Context, controller *usecase.DialogueController, line consoleLine) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch line.action {
	case actionStart:
		return controller.Start(ctx)
	case actionChoose:
		return controller.Choose(ctx, domain.Option(line.value))
	case actionStop:
		return controller.StopListening(ctx)
	case actionReset:
		return controller.Reset(ctx)
	case actionText:
		return controller.SubmitText(ctx, line.value)
	default:
		return nil
	}
}

// consoleSink prints stage changes and errors between the spoken prompts.
type consoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out}
}

func (s *consoleSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *consoleSink) StageChanged(snapshot domain.Snapshot, reason domain.StageReason) {
	s.printf("[%s] (%s)\n", snapshot.Stage, reason)
	if snapshot.Stage == domain.StageSummaryConfirm {
		s.printf("  분류: %s / 담당: %s\n", snapshot.Record.TopicCategory, snapshot.Record.Agency)
	}
}

func (s *consoleSink) PromptIssued(prompt domain.Prompt) {
	if len(prompt.Choices) > 0 {
		options := make([]string, 0, len(prompt.Choices))
		for _, option := range prompt.Choices {
			options = append(options, string(option))
		}
		s.printf("  선택지: %s\n", strings.Join(options, ", "))
	}
}

func (s *consoleSink) CaptureChanged(bool) {}

func (s *consoleSink) CountdownStarted(_ domain.Stage, duration time.Duration) {
	s.printf("  %d초 안에 답해 주세요\n", int(duration.Round(time.Second)/time.Second))
}

func (s *consoleSink) SessionError(code domain.ErrorCode, detail string) {
	s.printf("  ! %s: %s\n", code, detail)
}
