package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// FilterRule is one named entry of filters.toml. Nil and empty lists pass.
type FilterRule struct {
	Name               string   `toml:"-"`
	CaseSensitive      bool     `toml:"subject_case_sensitive"`
	SubjectContains    []string `toml:"subject_contains,omitempty"`
	SubjectNotContains []string `toml:"subject_not_contains,omitempty"`
	MessageRegex       []string `toml:"message_regex,omitempty"`
	MessageNotRegex    []string `toml:"message_not_regex,omitempty"`
}

// Filters is the content of filters.toml.
type Filters struct {
	Filter map[string]FilterRule `toml:"filter"`
}

// Names returns the filter names in sorted order.
func (f Filters) Names() []string {
	names := make([]string, 0, len(f.Filter))
	for name := range f.Filter {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f Filters) normalize() Filters {
	out := Filters{Filter: make(map[string]FilterRule, len(f.Filter))}
	for name, rule := range f.Filter {
		rule.Name = name
		out.Filter[name] = rule
	}
	return out
}

// StubFilter is written for a filter that a publish rule references but
// filters.toml does not define. Every list holds one empty string, so the
// stub never forwards anything until it is edited.
func StubFilter(name string) FilterRule {
	return FilterRule{
		Name:               name,
		SubjectContains:    []string{""},
		SubjectNotContains: []string{""},
		MessageRegex:       []string{""},
		MessageNotRegex:    []string{""},
	}
}

// WriteFilterStubs adds a stub for each name not yet defined and rewrites
// filters.toml at path.
func WriteFilterStubs(path string, filters Filters, names []string) error {
	out := Filters{Filter: make(map[string]FilterRule, len(filters.Filter)+len(names))}
	for name, rule := range filters.Filter {
		out.Filter[name] = rule
	}
	for _, name := range names {
		if _, ok := out.Filter[name]; !ok {
			out.Filter[name] = StubFilter(name)
		}
	}
	return writeTOML(path, out)
}

// Template is the config.toml written when none exists.
func Template() Config {
	seen := true
	return Config{
		Service:        true,
		SleepTime:      5,
		MarkMailAsSeen: &seen,
		Mail: Mail{
			IMAP:     "imap.domain.com",
			Port:     993,
			Username: "my@mail.com",
			Password: "*******",
		},
		Slack: Slack{
			Webhook:  "https://hooks.slack.com/services/xxx/yyy/zzz",
			Username: "BOT",
			Emoji:    "+1",
		},
		Publish: []PublishRule{
			{Mailbox: "Inbox", Channels: []string{"#testing_1", "#testing_2"}},
			{Mailbox: "Archive", Channels: []string{"#general"}, Filter: "Filter_1"},
		},
	}
}

// FiltersTemplate is the filters.toml written when none exists.
func FiltersTemplate() Filters {
	return Filters{Filter: map[string]FilterRule{
		"Filter_1": {
			SubjectContains:    []string{"[Something]"},
			SubjectNotContains: []string{"TEST", "REMINDER"},
			MessageRegex:       []string{"WRITE A REGULAR EXPRESSION"},
			MessageNotRegex:    []string{"WRITE A REGULAR EXPRESSION"},
		},
	}}
}

// readFile decodes the TOML file at path into v. When the file does not
// exist, template is written in its place and ErrTemplateWritten returned.
func readFile(path string, v, template any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := writeTOML(path, template); err != nil {
			return err
		}
		return &TemplateError{Path: path}
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%s: unknown keys:\n%s", path, strict.String())
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("%s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func writeTOML(path string, v any) error {
	data, err := toml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
