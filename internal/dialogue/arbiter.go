package dialogue

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"minwondesk/internal/domain"
)

// InputKind tags a ResolvedInput.
type InputKind string

const (
	InputSelected     InputKind = "selected"
	InputYesNo        InputKind = "yes_no"
	InputUnrecognized InputKind = "unrecognized"
)

// ResolvedInput is the single decision taken from one user input.
type ResolvedInput struct {
	Kind   InputKind
	Option domain.Option
	Yes    bool
}

// Selected builds a Selected input.
func Selected(option domain.Option) ResolvedInput {
	return ResolvedInput{Kind: InputSelected, Option: option}
}

// YesNo builds a YesNo input.
func YesNo(yes bool) ResolvedInput {
	return ResolvedInput{Kind: InputYesNo, Yes: yes}
}

// Unrecognized is the input that matched nothing.
var Unrecognized = ResolvedInput{Kind: InputUnrecognized}

// Affirmative interprets the input as a yes/no answer. Selected(yes|no) from a
// button counts the same as a spoken YesNo.
func (r ResolvedInput) Affirmative() (yes bool, ok bool) {
	switch r.Kind {
	case InputYesNo:
		return r.Yes, true
	case InputSelected:
		switch r.Option {
		case domain.OptionYes:
			return true, true
		case domain.OptionNo:
			return false, true
		}
	}
	return false, false
}

// Aliases maps each option to the phrases that select it by voice.
type Aliases map[domain.Option][]string

// Arbiter resolves raw text against a choice set.
type Arbiter struct {
	aliases  map[domain.Option][]string
	yesWords []string
	noWords  []string
}

// NewArbiter copies and normalizes the alias and keyword tables.
func NewArbiter(aliases Aliases, yesWords, noWords []string) *Arbiter {
	a := &Arbiter{aliases: make(map[domain.Option][]string, len(aliases))}
	for option, phrases := range aliases {
		a.aliases[option] = normalizeAll(phrases)
	}
	a.yesWords = normalizeAll(yesWords)
	a.noWords = normalizeAll(noWords)
	return a
}

// DefaultArbiter uses the built-in Korean vocabulary.
func DefaultArbiter() *Arbiter {
	return NewArbiter(DefaultAliases(), DefaultYesWords(), DefaultNoWords())
}

// DefaultAliases lists the voice aliases of each option. Single-syllable aliases
// such as "네" only count as a standalone answer or the first word of one; they
// also occur inside ordinary words ("예약") and endings ("-네요").
func DefaultAliases() Aliases {
	return Aliases{
		domain.OptionStart:       {"시작", "민원", "도와", "start"},
		domain.OptionPersonal:    {"개인", "본인", "사적", "우리집", "저희집", "personal"},
		domain.OptionPublic:      {"공공", "공용", "기관", "동네", "마을", "public"},
		domain.OptionYes:         {"예", "네", "응"},
		domain.OptionNo:          {"아니", "아뇨"},
		domain.OptionAcknowledge: {"확인", "알겠", "알았", "네", "예", "ok", "okay"},
	}
}

// DefaultYesWords is the positive fallback list for yes/no stages.
func DefaultYesWords() []string {
	return []string{"맞", "그래", "좋아", "좋습니다", "그렇", "yes", "yeah"}
}

// DefaultNoWords is the negative list for yes/no stages. It is checked before
// every positive alias and keyword.
func DefaultNoWords() []string {
	return []string{"아니", "아닌", "아냐", "틀렸", "틀려", "틀린", "안맞", "않", "싫", "nope", "no"}
}

// Resolve maps voice or typed text onto one of choices.
func (a *Arbiter) Resolve(raw string, choices domain.ChoiceSet) ResolvedInput {
	text := normalize(raw)
	if text == "" || len(choices) == 0 {
		return Unrecognized
	}
	lead := leadingWord(raw)

	for _, option := range choices {
		if text == normalize(string(option)) {
			return a.selected(option, choices)
		}
	}

	if choices.IsYesNo() {
		return a.resolveYesNo(text, lead)
	}

	for _, option := range choices {
		if matchAlias(text, lead, a.aliases[option]) {
			return Selected(option)
		}
	}
	return Unrecognized
}

// resolveYesNo reads any negative phrase as "no", even when the sentence also
// carries a positive word ("안 맞네요").
func (a *Arbiter) resolveYesNo(text, lead string) ResolvedInput {
	switch {
	case matchAlias(text, lead, a.aliases[domain.OptionNo]), containsAny(text, a.noWords):
		return YesNo(false)
	case matchAlias(text, lead, a.aliases[domain.OptionYes]), containsAny(text, a.yesWords):
		return YesNo(true)
	}
	return Unrecognized
}

// ResolveButton maps a pre-resolved button click straight to Selected.
func (a *Arbiter) ResolveButton(option domain.Option, choices domain.ChoiceSet) ResolvedInput {
	if !choices.Contains(option) {
		return Unrecognized
	}
	return Selected(option)
}

func (a *Arbiter) selected(option domain.Option, choices domain.ChoiceSet) ResolvedInput {
	if choices.IsYesNo() {
		return YesNo(option == domain.OptionYes)
	}
	return Selected(option)
}

// matchAlias reports whether any alias occurs in text. A single-rune alias must
// be the leading word, optionally repeated ("네네").
func matchAlias(text, lead string, aliases []string) bool {
	for _, alias := range aliases {
		if utf8.RuneCountInString(alias) == 1 {
			if lead != "" && strings.Trim(lead, alias) == "" {
				return true
			}
			continue
		}
		if alias != "" && strings.Contains(text, alias) {
			return true
		}
	}
	return false
}

func containsAny(text string, words []string) bool {
	for _, word := range words {
		if word != "" && strings.Contains(text, word) {
			return true
		}
	}
	return false
}

// leadingWord returns the first whitespace-separated word of raw, lower-cased
// and without surrounding punctuation.
func leadingWord(raw string) string {
	for _, field := range strings.Fields(raw) {
		word := strings.TrimFunc(normalize(field), func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if word != "" {
			return word
		}
	}
	return ""
}

// normalize strips every whitespace rune and lower-cases the rest.
func normalize(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, text)
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if normalized := normalize(value); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out
}
