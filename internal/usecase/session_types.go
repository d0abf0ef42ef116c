package usecase

import (
	"minwondesk/internal/domain"
)

type commandKind int

const (
	commandStart commandKind = iota
	commandChoose
	commandText
	commandStopListening
	commandReset
)

// command is a user request posted by a public controller method.
type command struct {
	kind   commandKind
	option domain.Option
	text   string
	reply  chan error
}

// The remaining events are produced off-loop and carry the session generation
// and turn they belong to; stale ones are dropped.

type speechDone struct {
	gen  uint64
	turn uint64
	err  error
}

type utteranceCaptured struct {
	gen       uint64
	turn      uint64
	utterance domain.Utterance
}

type transcriptReady struct {
	gen  uint64
	turn uint64
	text string
	err  error
}

type timerKind int

const (
	timerPrintCountdown timerKind = iota
	timerCompleteReset
)

type timerFired struct {
	gen  uint64
	turn uint64
	kind timerKind
}

// session is the per-conversation state owned by the controller loop.
type session struct {
	id        string
	record    domain.ConversationRecord
	chat      []domain.ChatLog
	submitted bool
	reprompts int
}

func (s *session) log(speaker domain.Speaker, message string) {
	s.chat = append(s.chat, domain.ChatLog{Speaker: speaker, Message: message})
}
