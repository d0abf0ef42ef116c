package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minwondesk/internal/dialogue"
	"minwondesk/internal/domain"
	"minwondesk/internal/ports"
	"minwondesk/internal/rules"
)

const waitFor = 2 * time.Second

type harness struct {
	ctrl    *DialogueController
	capture *fakeCapturer
	speaker *fakeSpeaker
	store   *fakeStore
	sink    *fakeEventSink
}

func newHarness(t *testing.T, cfg Config, tweak ...func(*Dependencies)) *harness {
	t.Helper()

	h := &harness{
		capture: &fakeCapturer{},
		speaker: &fakeSpeaker{},
		store:   &fakeStore{},
		sink:    &fakeEventSink{},
	}
	ids := 0
	deps := Dependencies{
		Capture:     h.capture,
		Transcriber: fakeTranscriber{},
		Speaker:     h.speaker,
		Store:       h.store,
		Events:      h.sink,
		NewSessionID: func() string {
			ids++
			return fmt.Sprintf("session-%d", ids)
		},
	}
	for _, fn := range tweak {
		fn(&deps)
	}
	h.ctrl = NewDialogueController(deps, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func voiceConfig() Config {
	return Config{
		VoiceInput:         true,
		MaxReprompts:       3,
		ChoiceCapture:      CapturePolicy{MaxDuration: 8 * time.Second},
		DetailCapture:      CapturePolicy{MaxDuration: 60 * time.Second, SilenceTimeout: 3 * time.Second},
		CompleteResetDelay: time.Minute,
	}
}

func (h *harness) waitStage(t *testing.T, stage domain.Stage) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.Status().Stage == stage }, waitFor, 2*time.Millisecond,
		"expected stage %s, last snapshot %+v", stage, h.ctrl.Status())
}

// answer waits until the controller is listening in stage and speaks text.
func (h *harness) answer(t *testing.T, stage domain.Stage, text string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ctrl.Status().Stage == stage && h.capture.Capturing()
	}, waitFor, 2*time.Millisecond, "controller never listened in %s", stage)
	require.True(t, h.capture.speak(text))
}

func TestControllerStreetlightScenario(t *testing.T) {
	t.Parallel()

	cfg := voiceConfig()
	cfg.CompleteResetDelay = 50 * time.Millisecond
	h := newHarness(t, cfg)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	h.answer(t, domain.StageGroupSelection, "공공기관 문의입니다")

	h.answer(t, domain.StageDetail, "가로등이 고장났어요")
	assert.Equal(t, voiceConfig().DetailCapture, h.capture.lastPolicy())

	h.waitStage(t, domain.StageSummaryConfirm)
	record := h.ctrl.Status().Record
	assert.Equal(t, domain.GroupPublic, record.GroupType)
	assert.Equal(t, "시설", record.TopicCategory)
	assert.Equal(t, "도시관리과", record.Agency)
	assert.Equal(t, "시설 관련하여 가로등이 고장났어요", record.Summary)

	h.answer(t, domain.StageSummaryConfirm, "네")
	h.answer(t, domain.StageVisitHandoff, "확인했습니다")
	assert.Equal(t, voiceConfig().ChoiceCapture, h.capture.lastPolicy())
	h.answer(t, domain.StagePrintConfirm, "아니요")

	h.waitStage(t, domain.StageComplete)
	complaints := h.store.submitted()
	require.Len(t, complaints, 1)

	want := domain.Complaint{
		GroupType:      domain.GroupPublic,
		TopicCategory:  "시설",
		Agency:         "도시관리과",
		Summary:        "시설 관련하여 가로등이 고장났어요",
		FullText:       "가로등이 고장났어요",
		RequiresVisit:  true,
		PrintRequested: false,
		Status:         domain.StatusReceived,
	}
	if diff := cmp.Diff(want, complaints[0], cmpopts.IgnoreFields(domain.Complaint{}, "ID", "Guidance", "ChatLogs")); diff != "" {
		t.Fatalf("unexpected complaint (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, complaints[0].ID)
	assert.Contains(t, complaints[0].Guidance, "현장 조사")
	assert.Contains(t, complaints[0].ChatLogs, domain.ChatLog{Speaker: domain.SpeakerUser, Message: "가로등이 고장났어요"})
	assert.Equal(t, domain.SpeakerAssistant, complaints[0].ChatLogs[0].Speaker)

	h.waitStage(t, domain.StageReady)
	stages := h.sink.snapshotStages()
	assert.Equal(t, domain.ReasonCompleteTimeout, stages[len(stages)-1].reason)
	assert.Equal(t, domain.ConversationRecord{}, h.ctrl.Status().Record)
	assert.Len(t, h.store.submitted(), 1)
}

func TestControllerTypedDocumentsFlow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.SubmitText(ctx, "개인"))
	require.Equal(t, domain.StageDetail, h.ctrl.Status().Stage)

	require.NoError(t, h.ctrl.SubmitText(ctx, "주민등록 등본 발급 문의"))
	require.Equal(t, domain.StageSummaryConfirm, h.ctrl.Status().Stage)

	require.NoError(t, h.ctrl.SubmitText(ctx, "맞아요"))
	// DOCUMENT_GUIDE advances by itself once its prompt has been spoken
	h.waitStage(t, domain.StagePrintConfirm)
	assert.False(t, h.ctrl.Status().Record.RequiresVisit)

	require.NoError(t, h.ctrl.SubmitText(ctx, "네 뽑아주세요"))
	require.Equal(t, domain.StageComplete, h.ctrl.Status().Stage)

	complaints := h.store.submitted()
	require.Len(t, complaints, 1)
	assert.True(t, complaints[0].PrintRequested)
	assert.Equal(t, "기타", complaints[0].TopicCategory)
	assert.False(t, h.capture.Capturing(), "typed mode never opens the microphone")
	assert.Empty(t, h.capture.policies)
}

func TestControllerHandoffHappensOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	driveToPrintConfirm(t, h)

	require.NoError(t, h.ctrl.Choose(ctx, domain.OptionYes))
	require.Equal(t, domain.StageComplete, h.ctrl.Status().Stage)
	assert.True(t, h.ctrl.Status().Submitted)

	// late answers in COMPLETE only repeat the closing prompt
	require.NoError(t, h.ctrl.Choose(ctx, domain.OptionYes))
	require.NoError(t, h.ctrl.SubmitText(ctx, "네"))
	assert.Len(t, h.store.submitted(), 1)
	assert.Equal(t, domain.StageComplete, h.ctrl.Status().Stage)
}

func TestControllerStoreFailureStillCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.store.err = errors.New("db down")
	driveToPrintConfirm(t, h)

	require.NoError(t, h.ctrl.SubmitText(context.Background(), "아니요"))
	assert.Equal(t, domain.StageComplete, h.ctrl.Status().Stage)
	assert.Contains(t, h.sink.errorCodes(), domain.ErrorCodeStoreSubmit)
}

func TestControllerSummaryRejectedDiscardsRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Choose(ctx, domain.OptionPublic))
	require.NoError(t, h.ctrl.SubmitText(ctx, "버스가 안 와요"))
	require.Equal(t, "교통", h.ctrl.Status().Record.TopicCategory)

	require.NoError(t, h.ctrl.SubmitText(ctx, "안 맞아요"))
	status := h.ctrl.Status()
	assert.Equal(t, domain.StageGroupSelection, status.Stage)
	assert.Equal(t, domain.ConversationRecord{}, status.Record)
	assert.Equal(t, "session-1", status.SessionID)
}

func TestControllerUnrecognizedRepromptsThenGivesUp(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxReprompts: 2})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	for i := 1; i <= 2; i++ {
		require.NoError(t, h.ctrl.SubmitText(ctx, "글쎄요"))
		status := h.ctrl.Status()
		require.Equal(t, domain.StageGroupSelection, status.Stage)
		require.Equal(t, i, status.Reprompts)
	}
	prompts := h.sink.snapshotPrompts()
	last := prompts[len(prompts)-1]
	assert.Equal(t, dialogue.Reprompt(dialogue.PromptFor(domain.StageGroupSelection, domain.ConversationRecord{})), last)

	require.NoError(t, h.ctrl.SubmitText(ctx, "글쎄요"))
	status := h.ctrl.Status()
	assert.Equal(t, domain.StageReady, status.Stage)
	assert.Empty(t, status.SessionID)
	assert.Contains(t, h.sink.errorCodes(), domain.ErrorCodeUnrecognizedChoice)
	stages := h.sink.snapshotStages()
	assert.Equal(t, domain.ReasonRetriesExhausted, stages[len(stages)-1].reason)
}

func TestControllerRepromptBudgetResetsPerStage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxReprompts: 1})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.SubmitText(ctx, "음"))
	require.NoError(t, h.ctrl.SubmitText(ctx, "공공"))
	require.Equal(t, domain.StageDetail, h.ctrl.Status().Stage)
	assert.Zero(t, h.ctrl.Status().Reprompts)
}

func TestControllerResetDropsLateCallbacks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, voiceConfig())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.Eventually(t, h.capture.Capturing, waitFor, 2*time.Millisecond)
	stale := h.capture.peek()

	require.NoError(t, h.ctrl.Reset(ctx))
	assert.Equal(t, domain.StageReady, h.ctrl.Status().Stage)
	assert.Equal(t, 1, h.capture.cancelCount())
	assert.False(t, h.capture.Capturing())
	before := len(h.sink.snapshotStages())

	stale(domain.Utterance{Audio: []byte("개인"), Reason: domain.CaptureSilenceTimeout})
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, domain.StageReady, h.ctrl.Status().Stage)
	assert.Len(t, h.sink.snapshotStages(), before)
	assert.Equal(t, domain.ConversationRecord{}, h.ctrl.Status().Record)
}

func TestControllerResetStopsTimers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{PrintCountdown: 200 * time.Millisecond, PrintCountdownAction: CountdownDecline})
	driveToPrintConfirm(t, h)
	require.Eventually(t, func() bool { return len(h.sink.countdownStages()) == 1 }, waitFor, 2*time.Millisecond)

	require.NoError(t, h.ctrl.Reset(context.Background()))
	assert.Zero(t, h.ctrl.timers.pending())
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, domain.StageReady, h.ctrl.Status().Stage)
	assert.Empty(t, h.store.submitted())
}

func TestControllerPrintCountdownDeclines(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{PrintCountdown: 30 * time.Millisecond, PrintCountdownAction: CountdownDecline})
	driveToPrintConfirm(t, h)

	h.waitStage(t, domain.StageComplete)
	complaints := h.store.submitted()
	require.Len(t, complaints, 1)
	assert.False(t, complaints[0].PrintRequested)
	assert.Equal(t, []domain.Stage{domain.StagePrintConfirm}, h.sink.countdownStages())
}

func TestControllerPrintCountdownNoneOnlyReports(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{PrintCountdown: 20 * time.Millisecond})
	driveToPrintConfirm(t, h)

	require.Eventually(t, func() bool { return len(h.sink.countdownStages()) == 1 }, waitFor, 2*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, domain.StagePrintConfirm, h.ctrl.Status().Stage)
	assert.Empty(t, h.store.submitted())
}

func TestControllerPermissionDeniedReturnsToReady(t *testing.T) {
	t.Parallel()

	h := newHarness(t, voiceConfig())
	h.capture.startErr = fmt.Errorf("%w: pulse refused", ports.ErrMicrophoneUnavailable)

	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Eventually(t, func() bool {
		stages := h.sink.snapshotStages()
		last := stages[len(stages)-1]
		return last.stage == domain.StageReady && last.reason == domain.ReasonPermissionDenied
	}, waitFor, 2*time.Millisecond)
	assert.Contains(t, h.sink.errorCodes(), domain.ErrorCodePermissionDenied)
}

func TestControllerTranscriptionFailureReprompts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, voiceConfig())
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.answer(t, domain.StageGroupSelection, "ERR")
	require.Eventually(t, func() bool { return h.ctrl.Status().Reprompts == 1 }, waitFor, 2*time.Millisecond)
	assert.Contains(t, h.sink.errorCodes(), domain.ErrorCodeTranscription)

	h.answer(t, domain.StageGroupSelection, "개인적인 일이에요")
	h.waitStage(t, domain.StageDetail)
}

func TestControllerEmptyDetailStillSummarizes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, voiceConfig())
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.answer(t, domain.StageGroupSelection, "개인")
	h.answer(t, domain.StageDetail, "")

	h.waitStage(t, domain.StageSummaryConfirm)
	record := h.ctrl.Status().Record
	assert.Equal(t, "기타", record.TopicCategory)
	assert.Equal(t, "기타 관련하여", record.Summary)
	assert.Empty(t, record.RawText)
	assert.Contains(t, h.sink.errorCodes(), domain.ErrorCodeEmptyUtterance)
}

func TestControllerStopListeningProcessesCapture(t *testing.T) {
	t.Parallel()

	h := newHarness(t, voiceConfig())
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	h.answer(t, domain.StageGroupSelection, "공공")

	require.Eventually(t, func() bool {
		return h.ctrl.Status().Stage == domain.StageDetail && h.capture.Capturing()
	}, waitFor, 2*time.Millisecond)
	h.capture.mu.Lock()
	h.capture.stopAudio = "공원 화장실 누수가 심해요"
	h.capture.mu.Unlock()

	require.NoError(t, h.ctrl.StopListening(ctx))
	h.waitStage(t, domain.StageSummaryConfirm)
	assert.Equal(t, []string{"공원 화장실 누수가 심해요"}, h.ctrl.Status().Record.RawText)
}

func TestControllerButtonCancelsCaptureAndWrongButtonReprompts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, voiceConfig())
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.Eventually(t, h.capture.Capturing, waitFor, 2*time.Millisecond)

	require.NoError(t, h.ctrl.Choose(ctx, domain.OptionYes))
	assert.Equal(t, domain.StageGroupSelection, h.ctrl.Status().Stage)
	assert.Equal(t, 1, h.ctrl.Status().Reprompts)

	require.Eventually(t, h.capture.Capturing, waitFor, 2*time.Millisecond)
	require.NoError(t, h.ctrl.Choose(ctx, domain.OptionPersonal))
	assert.Equal(t, domain.StageDetail, h.ctrl.Status().Stage)
	assert.Equal(t, domain.GroupPersonal, h.ctrl.Status().Record.GroupType)
	assert.GreaterOrEqual(t, h.capture.cancelCount(), 2)
}

func TestControllerStartMidSessionBeginsFresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.SubmitText(ctx, "공공"))
	require.NoError(t, h.ctrl.SubmitText(ctx, "놀이터 벤치가 부서졌어요"))

	require.NoError(t, h.ctrl.Start(ctx))
	status := h.ctrl.Status()
	assert.Equal(t, domain.StageGroupSelection, status.Stage)
	assert.Equal(t, "session-2", status.SessionID)
	assert.Equal(t, domain.ConversationRecord{}, status.Record)
}

func TestControllerAppliesTranscriptCorrections(t *testing.T) {
	t.Parallel()

	engine, err := rules.Parse("가로 등 => 가로등", 0)
	require.NoError(t, err)
	h := newHarness(t, Config{}, func(d *Dependencies) { d.Normalizer = engine })
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.SubmitText(ctx, "공공"))
	require.NoError(t, h.ctrl.SubmitText(ctx, "가로 등이 깜빡여요"))

	record := h.ctrl.Status().Record
	assert.Equal(t, []string{"가로등이 깜빡여요"}, record.RawText)
	assert.Equal(t, "시설", record.TopicCategory)
}

func TestControllerSpeechErrorIsReportedAndDialogueContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, voiceConfig())
	h.speaker.mu.Lock()
	h.speaker.err = errors.New("espeak-ng: not found")
	h.speaker.mu.Unlock()

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.answer(t, domain.StageGroupSelection, "개인")
	h.waitStage(t, domain.StageDetail)
	assert.Contains(t, h.sink.errorCodes(), domain.ErrorCodeSpeech)
}

func TestControllerNewPromptWaitsForInterruptedSpeech(t *testing.T) {
	t.Parallel()

	speaker := &lingeringSpeaker{}
	h := newHarness(t, Config{}, func(d *Dependencies) { d.Speaker = speaker })
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.SubmitText(ctx, "개인"))
	require.NoError(t, h.ctrl.SubmitText(ctx, "주민등록 등본 발급 문의"))
	require.Equal(t, domain.StageSummaryConfirm, h.ctrl.Status().Stage)

	require.Eventually(t, func() bool {
		started, _ := speaker.counts()
		return started >= 3
	}, waitFor, 2*time.Millisecond)
	_, maxSeen := speaker.counts()
	assert.Equal(t, 1, maxSeen, "two prompts played at once")
}

func TestControllerPromptsAreSpokenAndLogged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	require.NoError(t, h.ctrl.Start(context.Background()))

	want := dialogue.PromptFor(domain.StageGroupSelection, domain.ConversationRecord{}).Text
	require.Eventually(t, func() bool {
		h.speaker.mu.Lock()
		defer h.speaker.mu.Unlock()
		for _, text := range h.speaker.spoken {
			if text == want {
				return true
			}
		}
		return false
	}, waitFor, 2*time.Millisecond)

	prompts := h.sink.snapshotPrompts()
	assert.Equal(t, domain.StageReady, prompts[0].Stage)
	assert.True(t, strings.Contains(prompts[len(prompts)-1].Text, "개인"))
}

func TestControllerRunOnceAndStoppedRequests(t *testing.T) {
	t.Parallel()

	ctrl := NewDialogueController(Dependencies{
		Speaker: &fakeSpeaker{},
		Store:   &fakeStore{},
		Events:  &fakeEventSink{},
	}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	require.NoError(t, ctrl.Start(context.Background()))
	assert.ErrorIs(t, ctrl.Run(context.Background()), ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, ctrl.Reset(context.Background()), ErrControllerStopped)
}

func TestControllerRequestHonorsContextBeforeRun(t *testing.T) {
	t.Parallel()

	ctrl := NewDialogueController(Dependencies{
		Speaker: &fakeSpeaker{},
		Store:   &fakeStore{},
		Events:  &fakeEventSink{},
	}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ctrl.Start(ctx), context.DeadlineExceeded)
	assert.Equal(t, domain.StageReady, ctrl.Status().Stage)
}

func TestNewDialogueControllerRequiresVoiceDependencies(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		NewDialogueController(Dependencies{Speaker: &fakeSpeaker{}, Store: &fakeStore{}, Events: &fakeEventSink{}}, Config{VoiceInput: true})
	})
	assert.Panics(t, func() {
		NewDialogueController(Dependencies{}, Config{})
	})
}

// driveToPrintConfirm walks a typed session to PRINT_CONFIRM.
func driveToPrintConfirm(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Choose(ctx, domain.OptionPublic))
	require.NoError(t, h.ctrl.SubmitText(ctx, "공원 벤치가 파손됐어요"))
	require.NoError(t, h.ctrl.Choose(ctx, domain.OptionYes))
	require.Equal(t, domain.StageVisitHandoff, h.ctrl.Status().Stage)
	require.NoError(t, h.ctrl.Choose(ctx, domain.OptionAcknowledge))
	require.Equal(t, domain.StagePrintConfirm, h.ctrl.Status().Stage)
}
