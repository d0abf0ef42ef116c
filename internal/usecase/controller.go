package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"minwondesk/internal/classify"
	"minwondesk/internal/dialogue"
	"minwondesk/internal/domain"
	"minwondesk/internal/logging"
	"minwondesk/internal/observability/metrics"
	"minwondesk/internal/ports"
)

var (
	ErrControllerStopped = errors.New("dialogue controller is not running")
	ErrAlreadyRunning    = errors.New("dialogue controller already running")
)

// CountdownAction decides what happens when the print countdown expires.
type CountdownAction string

const (
	CountdownNone    CountdownAction = "none"
	CountdownDecline CountdownAction = "decline"
)

// Config controls dialogue pacing and capture behavior.
type Config struct {
	// VoiceInput opens the microphone after each prompt. When false the
	// dialogue is driven by buttons and typed text only.
	VoiceInput    bool
	MaxReprompts  int
	ChoiceCapture CapturePolicy
	DetailCapture CapturePolicy

	TranscribeTimeout  time.Duration
	SubmitTimeout      time.Duration
	CompleteResetDelay time.Duration

	PrintCountdown       time.Duration
	PrintCountdownAction CountdownAction
}

// Dependencies are the collaborators of a DialogueController. Speaker, Store
// and Events are required; Capture and Transcriber are required for voice input.
type Dependencies struct {
	Capture     Capturer
	Transcriber ports.Transcriber
	Speaker     ports.Speaker
	Store       ports.ComplaintStore
	Normalizer  ports.TranscriptNormalizer
	Events      ports.EventSink
	Classifier  *classify.Classifier
	Arbiter     *dialogue.Arbiter
	Metrics     *metrics.DialogueMetrics
	Logger      *zap.Logger
	// NewSessionID defaults to random UUIDs.
	NewSessionID func() string
}

// DialogueController runs the complaint intake conversation. All session state
// is owned by the Run loop; public methods post requests to it.
type DialogueController struct {
	capture     Capturer
	transcriber ports.Transcriber
	speaker     ports.Speaker
	normalizer  ports.TranscriptNormalizer
	events      ports.EventSink
	classifier  *classify.Classifier
	arbiter     *dialogue.Arbiter
	metrics     *metrics.DialogueMetrics
	logger      *zap.Logger
	newID       func() string
	handoff     complaintHandoff
	cfg         Config

	inbox   chan any
	done    chan struct{}
	running atomic.Bool
	workers sync.WaitGroup

	// owned by the loop
	ctx              context.Context
	gen              uint64
	turn             uint64
	stage            domain.Stage
	session          session
	speaking         bool
	capturing        bool
	speechCancel     context.CancelFunc
	speechIdle       chan struct{} // closed once the latest Speak has returned
	transcribeCancel context.CancelFunc
	timers           *timerSet

	snapMu   sync.RWMutex
	snapshot domain.Snapshot
}

func NewDialogueController(deps Dependencies, cfg Config) *DialogueController {
	if deps.Speaker == nil || deps.Store == nil || deps.Events == nil {
		panic("usecase: speaker, store and event sink are required")
	}
	if cfg.VoiceInput && (deps.Capture == nil || deps.Transcriber == nil) {
		panic("usecase: voice input requires capture and transcriber")
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.Default()
	}
	if deps.Arbiter == nil {
		deps.Arbiter = dialogue.DefaultArbiter()
	}
	if deps.NewSessionID == nil {
		deps.NewSessionID = uuid.NewString
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 15 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.CompleteResetDelay <= 0 {
		cfg.CompleteResetDelay = 10 * time.Second
	}
	if cfg.PrintCountdownAction == "" {
		cfg.PrintCountdownAction = CountdownNone
	}

	logger := logging.OrNop(deps.Logger)
	c := &DialogueController{
		capture:     deps.Capture,
		transcriber: deps.Transcriber,
		speaker:     deps.Speaker,
		normalizer:  deps.Normalizer,
		events:      deps.Events,
		classifier:  deps.Classifier,
		arbiter:     deps.Arbiter,
		metrics:     deps.Metrics,
		logger:      logger,
		newID:       deps.NewSessionID,
		handoff:     newComplaintHandoff(deps.Store, deps.Events, deps.Metrics, logger, cfg.SubmitTimeout),
		cfg:         cfg,
		inbox:       make(chan any),
		done:        make(chan struct{}),
		stage:       domain.StageReady,
		timers:      newTimerSet(),
	}
	c.snapshot = domain.Snapshot{Stage: domain.StageReady}
	return c
}

// Run processes requests until ctx is cancelled. It may be called once.
func (c *DialogueController) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.ctx = ctx
	defer c.shutdown()

	c.enter(domain.StageReady, domain.ReasonIdle)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-c.inbox:
			c.handle(event)
			c.publish()
		}
	}
}

// Start begins a new session, discarding any session in progress.
func (c *DialogueController) Start(ctx context.Context) error {
	return c.request(ctx, command{kind: commandStart})
}

// Choose submits a button press.
func (c *DialogueController) Choose(ctx context.Context, option domain.Option) error {
	return c.request(ctx, command{kind: commandChoose, option: option})
}

// SubmitText submits typed text as if it had been spoken.
func (c *DialogueController) SubmitText(ctx context.Context, text string) error {
	return c.request(ctx, command{kind: commandText, text: text})
}

// StopListening ends the open capture early and processes what was heard.
func (c *DialogueController) StopListening(ctx context.Context) error {
	return c.request(ctx, command{kind: commandStopListening})
}

// Reset abandons the session and returns to READY. Once it returns nothing
// from the abandoned session reaches the event sink.
func (c *DialogueController) Reset(ctx context.Context) error {
	return c.request(ctx, command{kind: commandReset})
}

// Status returns the latest published snapshot.
func (c *DialogueController) Status() domain.Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	out := c.snapshot
	out.Record = out.Record.Clone()
	return out
}

func (c *DialogueController) request(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.inbox <- cmd:
	case <-c.done:
		return ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *DialogueController) notify(event any) {
	select {
	case c.inbox <- event:
	case <-c.done:
	}
}

func (c *DialogueController) shutdown() {
	c.endTurn()
	close(c.done)
	c.workers.Wait()
}

func (c *DialogueController) handle(event any) {
	switch ev := event.(type) {
	case command:
		ev.reply <- c.handleCommand(ev)
	case speechDone:
		if c.current(ev.gen, ev.turn) {
			c.onPromptDelivered(ev.err)
		}
	case utteranceCaptured:
		if c.current(ev.gen, ev.turn) {
			c.onUtterance(ev.utterance)
		}
	case transcriptReady:
		if c.current(ev.gen, ev.turn) {
			c.onTranscript(ev.text, ev.err)
		}
	case timerFired:
		if c.current(ev.gen, ev.turn) {
			c.onTimer(ev.kind)
		}
	}
}

func (c *DialogueController) current(gen, turn uint64) bool {
	return gen == c.gen && turn == c.turn
}

func (c *DialogueController) handleCommand(cmd command) error {
	switch cmd.kind {
	case commandStart:
		c.startSession()
	case commandReset:
		c.reset(domain.ReasonReset)
	case commandStopListening:
		if c.capturing {
			c.capture.Stop()
		}
	case commandChoose:
		c.cancelCapture()
		c.session.log(domain.SpeakerUser, string(cmd.option))
		c.apply(c.arbiter.ResolveButton(cmd.option, dialogue.ChoicesFor(c.stage)))
	case commandText:
		c.cancelCapture()
		c.onText(cmd.text)
	}
	return nil
}

func (c *DialogueController) startSession() {
	c.endTurn()
	c.gen++
	c.session = session{id: c.newID()}
	c.logger.Info("session started", zap.String("session_id", c.session.id))
	c.enter(domain.StageGroupSelection, domain.ReasonSessionStarted)
}

func (c *DialogueController) reset(reason domain.StageReason) {
	c.endTurn()
	c.gen++
	if c.session.id != "" {
		c.logger.Info("session discarded",
			zap.String("session_id", c.session.id),
			zap.String("reason", string(reason)),
		)
	}
	c.session = session{}
	c.enter(domain.StageReady, reason)
}

func (c *DialogueController) transition(next domain.Stage, reason domain.StageReason) {
	c.endTurn()
	c.enter(next, reason)
}

// enter makes next the current stage and issues its prompt.
func (c *DialogueController) enter(next domain.Stage, reason domain.StageReason) {
	previous := c.stage
	c.stage = next
	c.session.reprompts = 0
	c.metrics.ObserveTransition(string(next), string(reason))
	c.logger.Debug("stage changed",
		zap.String("session_id", c.session.id),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
		zap.String("reason", string(reason)),
	)
	c.events.StageChanged(c.publish(), reason)
	c.say(dialogue.PromptFor(next, c.session.record))
}

// endTurn cancels everything still running for the current turn.
func (c *DialogueController) endTurn() {
	c.cancelCapture()
	c.cancelSpeech()
	if c.transcribeCancel != nil {
		c.transcribeCancel()
		c.transcribeCancel = nil
	}
	c.timers.stopAll()
}

func (c *DialogueController) say(prompt domain.Prompt) {
	c.cancelSpeech()
	c.timers.stopAll()
	c.turn++
	gen, turn := c.gen, c.turn

	c.session.log(domain.SpeakerAssistant, prompt.Text)
	c.events.PromptIssued(prompt)

	ctx, cancel := context.WithCancel(c.ctx)
	c.speechCancel = cancel
	c.speaking = true
	prev, idle := c.speechIdle, make(chan struct{})
	c.speechIdle = idle

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		defer close(idle)
		if prev != nil {
			<-prev
		}
		err := c.speaker.Speak(ctx, prompt.Text)
		c.notify(speechDone{gen: gen, turn: turn, err: err})
	}()
}

func (c *DialogueController) cancelSpeech() {
	if c.speechCancel != nil {
		c.speechCancel()
		c.speechCancel = nil
	}
	c.speaking = false
}

func (c *DialogueController) onPromptDelivered(err error) {
	c.cancelSpeech()
	if err != nil && !errors.Is(err, context.Canceled) {
		c.fail(domain.ErrorCodeSpeech, err.Error())
	}

	switch c.stage {
	case domain.StageReady:
	case domain.StageDocumentGuide:
		c.transition(domain.StagePrintConfirm, domain.ReasonGuideAcknowledged)
	case domain.StageComplete:
		c.arm(c.cfg.CompleteResetDelay, timerCompleteReset)
	case domain.StagePrintConfirm:
		if c.cfg.PrintCountdown > 0 {
			c.events.CountdownStarted(c.stage, c.cfg.PrintCountdown)
			c.arm(c.cfg.PrintCountdown, timerPrintCountdown)
		}
		c.listen()
	default:
		c.listen()
	}
}

func (c *DialogueController) arm(d time.Duration, kind timerKind) {
	gen, turn := c.gen, c.turn
	c.timers.after(d, func() {
		c.notify(timerFired{gen: gen, turn: turn, kind: kind})
	})
}

func (c *DialogueController) onTimer(kind timerKind) {
	switch kind {
	case timerCompleteReset:
		if c.stage == domain.StageComplete {
			c.reset(domain.ReasonCompleteTimeout)
		}
	case timerPrintCountdown:
		if c.stage == domain.StagePrintConfirm && c.cfg.PrintCountdownAction == CountdownDecline {
			c.cancelCapture()
			c.apply(dialogue.YesNo(false))
		}
	}
}

func (c *DialogueController) listen() {
	if !c.cfg.VoiceInput || c.capture == nil {
		return
	}

	policy := c.cfg.ChoiceCapture
	if c.stage == domain.StageDetail {
		policy = c.cfg.DetailCapture
	}

	gen, turn := c.gen, c.turn
	err := c.capture.Start(c.ctx, policy, func(utterance domain.Utterance) {
		go c.notify(utteranceCaptured{gen: gen, turn: turn, utterance: utterance})
	})
	if err != nil {
		code := domain.ErrorCodeStartup
		if errors.Is(err, ports.ErrMicrophoneUnavailable) {
			code = domain.ErrorCodePermissionDenied
		}
		c.fail(code, err.Error())
		c.reset(domain.ReasonPermissionDenied)
		return
	}

	c.capturing = true
	c.events.CaptureChanged(true)
}

func (c *DialogueController) cancelCapture() {
	if !c.capturing {
		return
	}
	c.capture.Cancel()
	c.capturing = false
	c.events.CaptureChanged(false)
}

func (c *DialogueController) onUtterance(utterance domain.Utterance) {
	c.capturing = false
	c.events.CaptureChanged(false)
	c.logger.Debug("utterance captured",
		zap.String("session_id", c.session.id),
		zap.String("reason", string(utterance.Reason)),
		zap.Int("bytes", len(utterance.Audio)),
	)

	if utterance.Empty() {
		c.onTranscript("", nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.TranscribeTimeout)
	c.transcribeCancel = cancel
	gen, turn := c.gen, c.turn

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		defer cancel()
		started := time.Now()
		text, err := c.transcriber.Transcribe(ctx, utterance.Audio)
		c.metrics.ObserveTranscription(err, time.Since(started))
		c.notify(transcriptReady{gen: gen, turn: turn, text: text, err: err})
	}()
}

func (c *DialogueController) onTranscript(text string, err error) {
	if c.transcribeCancel != nil {
		c.transcribeCancel()
		c.transcribeCancel = nil
	}
	if err != nil {
		c.fail(domain.ErrorCodeTranscription, err.Error())
		c.reprompt()
		return
	}
	if strings.TrimSpace(text) == "" {
		c.fail(domain.ErrorCodeEmptyUtterance, "nothing was heard")
	}
	c.onText(text)
}

func (c *DialogueController) onText(raw string) {
	text := strings.TrimSpace(c.normalize(raw))
	if text != "" {
		c.session.log(domain.SpeakerUser, text)
	}

	if c.stage == domain.StageDetail {
		c.collectDetail(text)
		return
	}
	c.apply(c.arbiter.Resolve(text, dialogue.ChoicesFor(c.stage)))
}

func (c *DialogueController) normalize(text string) string {
	if c.normalizer == nil || text == "" {
		return text
	}
	out, err := c.normalizer.Apply(text)
	if err != nil {
		c.logger.Warn("transcript correction failed", zap.Error(err))
		return text
	}
	return out
}

// apply advances the conversation by one resolved input. Anything a stage does
// not accept repeats its prompt.
func (c *DialogueController) apply(input dialogue.ResolvedInput) {
	switch c.stage {
	case domain.StageReady, domain.StageComplete:
		if input.Kind == dialogue.InputSelected && input.Option == domain.OptionStart {
			c.startSession()
			return
		}
	case domain.StageGroupSelection:
		if input.Kind == dialogue.InputSelected {
			switch input.Option {
			case domain.OptionPersonal:
				c.session.record.GroupType = domain.GroupPersonal
				c.transition(domain.StageDetail, domain.ReasonGroupSelected)
				return
			case domain.OptionPublic:
				c.session.record.GroupType = domain.GroupPublic
				c.transition(domain.StageDetail, domain.ReasonGroupSelected)
				return
			}
		}
	case domain.StageSummaryConfirm:
		if yes, ok := input.Affirmative(); ok {
			if yes {
				c.confirmSummary()
			} else {
				c.session.record = domain.ConversationRecord{}
				c.transition(domain.StageGroupSelection, domain.ReasonSummaryRejected)
			}
			return
		}
	case domain.StageVisitHandoff, domain.StageDocumentGuide:
		if input.Kind == dialogue.InputSelected && input.Option == domain.OptionAcknowledge {
			c.transition(domain.StagePrintConfirm, domain.ReasonGuideAcknowledged)
			return
		}
	case domain.StagePrintConfirm:
		if yes, ok := input.Affirmative(); ok {
			c.complete(yes)
			return
		}
	}
	c.reprompt()
}

func (c *DialogueController) collectDetail(text string) {
	record := &c.session.record
	if text != "" {
		record.RawText = append(record.RawText, text)
	}

	full := record.FullText()
	result := c.classifier.Classify(full)
	record.SetTopic(result.Category, result.Agency)
	record.Summary = c.classifier.Summarize(full, result.Category)
	c.transition(domain.StageSummaryConfirm, domain.ReasonDetailCollected)
}

func (c *DialogueController) confirmSummary() {
	record := &c.session.record
	if !record.VisitDecided() {
		visit := c.classifier.DeriveVisitNeed(record.Summary, record.GroupType)
		record.DecideVisit(visit, c.classifier.Guidance(record.TopicCategory, visit))
	}

	if record.RequiresVisit {
		c.transition(domain.StageVisitHandoff, domain.ReasonVisitRequired)
		return
	}
	c.transition(domain.StageDocumentGuide, domain.ReasonDocumentsOnly)
}

func (c *DialogueController) complete(printRequested bool) {
	c.session.record.PrintRequested = printRequested
	if !c.session.submitted {
		c.session.submitted = true
		_, _ = c.handoff.Submit(c.ctx, c.session.id, c.session.record, c.session.chat)
	}
	c.transition(domain.StageComplete, domain.ReasonHandedOff)
}

func (c *DialogueController) reprompt() {
	if c.stage != domain.StageReady && c.cfg.MaxReprompts > 0 && c.session.reprompts >= c.cfg.MaxReprompts {
		c.fail(domain.ErrorCodeUnrecognizedChoice, "too many unrecognized answers in "+string(c.stage))
		c.reset(domain.ReasonRetriesExhausted)
		return
	}

	c.cancelCapture()
	c.session.reprompts++
	c.metrics.ObserveReprompt(string(c.stage))
	c.events.StageChanged(c.publish(), domain.ReasonReprompt)
	c.say(dialogue.Reprompt(dialogue.PromptFor(c.stage, c.session.record)))
}

func (c *DialogueController) fail(code domain.ErrorCode, detail string) {
	c.logger.Warn("session error",
		zap.String("session_id", c.session.id),
		zap.String("stage", string(c.stage)),
		zap.String("code", string(code)),
		zap.String("detail", detail),
	)
	c.metrics.ObserveSessionError(string(code))
	c.events.SessionError(code, detail)
}

// publish stores and returns the snapshot of the loop state.
func (c *DialogueController) publish() domain.Snapshot {
	snapshot := domain.Snapshot{
		SessionID: c.session.id,
		Stage:     c.stage,
		Record:    c.session.record.Clone(),
		Capturing: c.capturing,
		Speaking:  c.speaking,
		Submitted: c.session.submitted,
		Reprompts: c.session.reprompts,
	}
	c.snapMu.Lock()
	c.snapshot = snapshot
	c.snapMu.Unlock()
	snapshot.Record = snapshot.Record.Clone()
	return snapshot
}
