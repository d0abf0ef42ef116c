package domain

import "strings"

// Stage models the intake conversation lifecycle.
type Stage string

const (
	StageReady          Stage = "READY"
	StageGroupSelection Stage = "GROUP_SELECTION"
	StageDetail         Stage = "DETAIL"
	StageSummaryConfirm Stage = "SUMMARY_CONFIRM"
	StageVisitHandoff   Stage = "VISIT_HANDOFF"
	StageDocumentGuide  Stage = "DOCUMENT_GUIDE"
	StagePrintConfirm   Stage = "PRINT_CONFIRM"
	StageComplete       Stage = "COMPLETE"
)

// StageReason provides a structured reason for stage transitions.
type StageReason string

const (
	ReasonIdle              StageReason = "idle"
	ReasonSessionStarted    StageReason = "session_started"
	ReasonGroupSelected     StageReason = "group_selected"
	ReasonDetailCollected   StageReason = "detail_collected"
	ReasonSummaryRejected   StageReason = "summary_rejected"
	ReasonVisitRequired     StageReason = "visit_required"
	ReasonDocumentsOnly     StageReason = "documents_only"
	ReasonGuideAcknowledged StageReason = "guide_acknowledged"
	ReasonHandedOff         StageReason = "handed_off"
	ReasonReprompt          StageReason = "reprompt"
	ReasonRetriesExhausted  StageReason = "retries_exhausted"
	ReasonPermissionDenied  StageReason = "permission_denied"
	ReasonCompleteTimeout   StageReason = "complete_timeout"
	ReasonReset             StageReason = "reset"
)

// ErrorCode identifies non-fatal session errors reported to the UI.
type ErrorCode string

const (
	ErrorCodeStartup            ErrorCode = "startup"
	ErrorCodePermissionDenied   ErrorCode = "permission_denied"
	ErrorCodeEmptyUtterance     ErrorCode = "empty_utterance"
	ErrorCodeUnrecognizedChoice ErrorCode = "unrecognized_choice"
	ErrorCodeStoreSubmit        ErrorCode = "store_submit"
	ErrorCodeTranscription      ErrorCode = "transcription"
	ErrorCodeSpeech             ErrorCode = "speech"
)

// GroupType distinguishes personal grievances from public-facility ones.
type GroupType string

const (
	GroupUnset    GroupType = ""
	GroupPersonal GroupType = "personal"
	GroupPublic   GroupType = "public"
)

// Label is the spoken Korean name of the group.
func (g GroupType) Label() string {
	switch g {
	case GroupPersonal:
		return "개인"
	case GroupPublic:
		return "공공"
	default:
		return ""
	}
}

// Option is a canonical answer in a choice set.
type Option string

const (
	OptionStart       Option = "start"
	OptionPersonal    Option = "personal"
	OptionPublic      Option = "public"
	OptionYes         Option = "yes"
	OptionNo          Option = "no"
	OptionAcknowledge Option = "acknowledge"
)

// ChoiceSet lists the valid answers for a stage. Empty means free speech.
type ChoiceSet []Option

// Contains reports whether option is part of the set.
func (c ChoiceSet) Contains(option Option) bool {
	for _, candidate := range c {
		if candidate == option {
			return true
		}
	}
	return false
}

// IsYesNo reports whether the set is exactly the implicit yes/no pair.
func (c ChoiceSet) IsYesNo() bool {
	return len(c) == 2 && c.Contains(OptionYes) && c.Contains(OptionNo)
}

// ConversationRecord accumulates what the user told us in one session.
type ConversationRecord struct {
	GroupType      GroupType `json:"groupType"`
	TopicCategory  string    `json:"topicCategory"`
	Agency         string    `json:"agency"`
	RawText        []string  `json:"rawText"`
	Summary        string    `json:"summary"`
	RequiresVisit  bool      `json:"requiresVisit"`
	GuidanceText   string    `json:"guidanceText"`
	PrintRequested bool      `json:"printRequested"`

	visitDecided bool
}

// FullText joins every utterance in arrival order.
func (r ConversationRecord) FullText() string {
	return strings.TrimSpace(strings.Join(r.RawText, " "))
}

// SetTopic stores category and agency together.
func (r *ConversationRecord) SetTopic(category, agency string) {
	r.TopicCategory = category
	r.Agency = agency
}

// DecideVisit stores the visit decision and guidance once; later calls are ignored.
func (r *ConversationRecord) DecideVisit(requiresVisit bool, guidance string) bool {
	if r.visitDecided {
		return false
	}
	r.RequiresVisit = requiresVisit
	r.GuidanceText = guidance
	r.visitDecided = true
	return true
}

// VisitDecided reports whether DecideVisit has run.
func (r ConversationRecord) VisitDecided() bool {
	return r.visitDecided
}

// Clone returns a deep copy safe to hand outside the controller loop.
func (r ConversationRecord) Clone() ConversationRecord {
	out := r
	if r.RawText != nil {
		out.RawText = append([]string(nil), r.RawText...)
	}
	return out
}

// Speaker identifies who produced a chat log line.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ChatLog is one line of the conversation transcript.
type ChatLog struct {
	Speaker Speaker `json:"speaker"`
	Message string  `json:"message"`
}

// StatusReceived is the status attached to every handed-off complaint.
const StatusReceived = "접수완료"

// Complaint is the payload handed to the complaint store.
type Complaint struct {
	// ID is assigned once at handoff. Stores treat a repeated ID as already saved.
	ID             string    `json:"id"`
	GroupType      GroupType `json:"groupType"`
	TopicCategory  string    `json:"topicCategory"`
	Agency         string    `json:"agency"`
	Summary        string    `json:"summary"`
	FullText       string    `json:"fullText"`
	RequiresVisit  bool      `json:"requiresVisit"`
	Guidance       string    `json:"guidance"`
	PrintRequested bool      `json:"printRequested"`
	Status         string    `json:"status"`
	ChatLogs       []ChatLog `json:"chatLogs"`
}

// Prompt is what the assistant says at the start of a turn.
type Prompt struct {
	Stage         Stage     `json:"stage"`
	Text          string    `json:"text"`
	ExpectsChoice bool      `json:"expectsChoice"`
	Choices       ChoiceSet `json:"choices"`
}

// Snapshot summarizes the current controller state.
type Snapshot struct {
	SessionID string             `json:"sessionId,omitempty"`
	Stage     Stage              `json:"stage"`
	Record    ConversationRecord `json:"record"`
	Capturing bool               `json:"capturing"`
	Speaking  bool               `json:"speaking"`
	Submitted bool               `json:"submitted"`
	Reprompts int                `json:"reprompts"`
}
