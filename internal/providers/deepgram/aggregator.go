package deepgram

import "strings"

// transcriptAggregator joins Deepgram result frames into one utterance.
type transcriptAggregator struct {
	finals   []string
	lastSeen string
}

func (a *transcriptAggregator) add(text string, final bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.lastSeen = text
	if final {
		a.finals = append(a.finals, text)
	}
}

// text prefers final segments and falls back to the last interim one.
func (a *transcriptAggregator) text() string {
	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if joined == "" {
		return a.lastSeen
	}
	if a.lastSeen == "" || strings.HasSuffix(joined, a.lastSeen) {
		return joined
	}
	if len(a.lastSeen) > len(joined) {
		return joined + " " + a.lastSeen
	}
	return joined
}
