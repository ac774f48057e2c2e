package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/imap2slack/config"
	"github.com/dhcgn/imap2slack/model"
)

// PatternError reports a regular expression of a filter that does not compile.
type PatternError struct {
	Filter  string
	Key     string
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("The filter '%s' has a syntax error in '%s' (%q): %v", e.Filter, e.Key, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Filter is a compiled FilterRule.
type Filter struct {
	name          string
	caseSensitive bool
	contains      []string
	notContains   []string
	match         []*regexp.Regexp
	notMatch      []*regexp.Regexp
}

// Result holds the outcome of each clause of a filter. A message is forwarded
// only when all four are true.
type Result struct {
	SubjectContains    bool
	SubjectNotContains bool
	MessageRegex       bool
	MessageNotRegex    bool
}

// Pass reports whether every clause passed.
func (r Result) Pass() bool {
	return r.SubjectContains && r.SubjectNotContains && r.MessageRegex && r.MessageNotRegex
}

// Failed lists the configuration keys of the clauses that did not pass.
func (r Result) Failed() []string {
	var failed []string
	if !r.SubjectContains {
		failed = append(failed, "subject_contains")
	}
	if !r.SubjectNotContains {
		failed = append(failed, "subject_not_contains")
	}
	if !r.MessageRegex {
		failed = append(failed, "message_regex")
	}
	if !r.MessageNotRegex {
		failed = append(failed, "message_not_regex")
	}
	return failed
}

// Compile compiles every pattern of rule. All broken patterns are reported,
// not just the first one.
func Compile(rule config.FilterRule) (*Filter, error) {
	match, matchErr := compilePatterns(rule.Name, "message_regex", rule.MessageRegex)
	notMatch, notMatchErr := compilePatterns(rule.Name, "message_not_regex", rule.MessageNotRegex)
	if err := errors.Join(matchErr, notMatchErr); err != nil {
		return nil, err
	}

	f := &Filter{
		name:          rule.Name,
		caseSensitive: rule.CaseSensitive,
		contains:      rule.SubjectContains,
		notContains:   rule.SubjectNotContains,
		match:         match,
		notMatch:      notMatch,
	}
	if !f.caseSensitive {
		f.contains = lowerAll(rule.SubjectContains)
		f.notContains = lowerAll(rule.SubjectNotContains)
	}
	return f, nil
}

// Name returns the name the filter was configured under.
func (f *Filter) Name() string {
	return f.name
}

// Evaluate reports whether rec should be forwarded.
func (f *Filter) Evaluate(rec model.Record) bool {
	return f.Check(rec).Pass()
}

// Check evaluates every clause of the filter against rec.
func (f *Filter) Check(rec model.Record) Result {
	subject := rec.Subject()
	if !f.caseSensitive {
		subject = strings.ToLower(subject)
	}
	body := rec.Body()

	return Result{
		SubjectContains:    containsAll(subject, f.contains),
		SubjectNotContains: containsNone(subject, f.notContains),
		MessageRegex:       matchAll(f.match, body),
		MessageNotRegex:    !matchAny(f.notMatch, body),
	}
}

// Set holds the compiled filters by name.
type Set struct {
	filters map[string]*Filter
}

// NewSet compiles all rules. Errors of every rule are joined.
func NewSet(rules map[string]config.FilterRule) (*Set, error) {
	s := &Set{filters: make(map[string]*Filter, len(rules))}
	var errs []error
	for name, rule := range rules {
		rule.Name = name
		f, err := Compile(rule)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.filters[name] = f
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup returns the filter configured under name.
func (s *Set) Lookup(name string) (*Filter, bool) {
	if s == nil {
		return nil, false
	}
	f, ok := s.filters[name]
	return f, ok
}

// Len returns the number of filters in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.filters)
}

func compilePatterns(filter, key string, patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	var errs []error
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			errs = append(errs, &PatternError{Filter: filter, Key: key, Pattern: pattern, Err: err})
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled, errors.Join(errs...)
}

func lowerAll(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

func containsAll(s string, needles []string) bool {
	for _, n := range needles {
		if !strings.Contains(s, n) {
			return false
		}
	}
	return true
}

func containsNone(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return false
		}
	}
	return true
}

func matchAll(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if !re.MatchString(text) {
			return false
		}
	}
	return true
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
