// Package rules rewrites recognized speech with deterministic corrections loaded
// from a plain-text rules file, one rule per line:
//
//	가로 등 => 가로등          literal, case-insensitive
//	공원 ~> 공원               literal that also matches when STT split the word ("공 원")
//	s/씨\s*씨\s*티\s*비/CCTV/g  regex with optional i, g, m, s flags
//
// Blank lines and lines starting with # are ignored.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

const defaultPassLimit = 30

type rule interface {
	apply(input string) (output string, changed bool)
}

// Engine applies every rule in file order until the text stops changing.
type Engine struct {
	rules     []rule
	passLimit int
}

// NewEngine loads rules from path. A missing or empty path yields an engine that
// returns text unchanged.
func NewEngine(path string, passLimit int) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return Parse("", passLimit)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Parse("", passLimit)
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	engine, err := Parse(string(contents), passLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return engine, nil
}

// Parse compiles rules from their textual form.
func Parse(contents string, passLimit int) (*Engine, error) {
	if passLimit <= 0 {
		passLimit = defaultPassLimit
	}

	var compiled []rule
	for number, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", number+1, err)
		}
		compiled = append(compiled, r)
	}
	return &Engine{rules: compiled, passLimit: passLimit}, nil
}

// Len reports how many rules were loaded.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply rewrites text. It never fails today; the error keeps the
// TranscriptNormalizer contract open for engines that can.
func (e *Engine) Apply(text string) (string, error) {
	result := text
	for pass := 0; pass < e.passLimit; pass++ {
		changed := false
		for _, r := range e.rules {
			if next, ok := r.apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

func parseLine(line string) (rule, error) {
	switch {
	case isRegexLine(line):
		return parseRegex(line)
	case strings.Contains(line, "~>"):
		return parseLiteral(line, "~>", true)
	case strings.Contains(line, "=>"):
		return parseLiteral(line, "=>", false)
	default:
		return nil, errors.New("unsupported rule format")
	}
}

type replaceRule struct {
	re          *regexp.Regexp
	replacement string
	firstOnly   bool
}

func (r replaceRule) apply(input string) (string, bool) {
	if !r.firstOnly {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func parseLiteral(line, arrow string, spacingInsensitive bool) (rule, error) {
	from, to, _ := strings.Cut(line, arrow)
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}

	pattern := regexp.QuoteMeta(from)
	if spacingInsensitive {
		pattern = spacedPattern(from)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	// literal replacements must not expand $1 style references
	return replaceRule{re: re, replacement: strings.ReplaceAll(to, "$", "$$")}, nil
}

// spacedPattern matches source with optional whitespace between its runes.
func spacedPattern(source string) string {
	compact := strings.Join(strings.Fields(source), "")
	parts := make([]string, 0, utf8.RuneCountInString(compact))
	for _, r := range compact {
		parts = append(parts, regexp.QuoteMeta(string(r)))
	}
	return strings.Join(parts, `\s*`)
}

func parseRegex(line string) (rule, error) {
	delim := line[1]
	pattern, next, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, next, err := readDelimited(line, next, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	modifiers := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[next:]) {
		switch flag {
		case 'i':
		case 'g':
			global = true
		case 'm', 's':
			modifiers += string(flag)
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + modifiers + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return replaceRule{re: re, replacement: replacement, firstOnly: !global}, nil
}

// readDelimited reads up to the next unescaped delim, keeping escapes intact so
// regexp sees them.
func readDelimited(line string, start int, delim byte) (string, int, error) {
	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		switch {
		case escaped:
			escaped = false
		case char == '\\':
			escaped = true
		case char == delim:
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

func isRegexLine(line string) bool {
	if len(line) < 2 || line[0] != 's' {
		return false
	}
	delim := line[1]
	return delim < utf8.RuneSelf && !isWordOrSpace(delim)
}

func isWordOrSpace(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == ' ' || char == '\t' || char == '_'
}
