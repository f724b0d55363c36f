package procscan

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrEmptyProcessName = errors.New("process name is empty")
	ErrNegativeIndex    = errors.New("argument index is negative")
	ErrEmptyPattern     = errors.New("argument pattern is required when argument index > 0")
)

// Matcher decides whether one command-line record belongs to the monitored
// process. It is immutable and safe for concurrent use.
type Matcher struct {
	name      string
	index     int
	pattern   *regexp.Regexp
	maxTokens int
}

// NewMatcher compiles a matcher. index 0 matches on the process name alone
// and ignores pattern. index > 0 is a 1-based position in the token list,
// where position 1 is the process name itself, and additionally requires that
// token to match pattern.
func NewMatcher(name string, index int, pattern string) (*Matcher, error) {
	if name == "" {
		return nil, ErrEmptyProcessName
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeIndex, index)
	}

	m := &Matcher{name: name, index: index, maxTokens: MaxTokens}
	if index == 0 {
		return m, nil
	}

	if pattern == "" {
		return nil, ErrEmptyPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile argument pattern %q: %w", pattern, err)
	}
	m.pattern = re
	return m, nil
}

// Name returns the process name argv[0] must equal.
func (m *Matcher) Name() string { return m.name }

// Index returns the 1-based argument index, 0 when unqualified.
func (m *Matcher) Index() int { return m.index }

// Pattern returns the source of the argument pattern, "" when unqualified.
func (m *Matcher) Pattern() string {
	if m.pattern == nil {
		return ""
	}
	return m.pattern.String()
}

// Match reports whether a raw cmdline record is a match. Empty records,
// a differing argv[0], too few arguments and a failed pattern match are all
// plain non-matches.
func (m *Matcher) Match(cmdline []byte) bool {
	if len(cmdline) == 0 {
		return false
	}
	if string(FirstToken(cmdline)) != m.name {
		return false
	}
	if m.index == 0 {
		return true
	}

	argv := Tokenize(cmdline, m.maxTokens)
	if m.index > len(argv) {
		return false
	}
	return m.pattern.MatchString(argv[m.index-1])
}
