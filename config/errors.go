package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTemplateWritten is returned when a configuration file was missing and a
// template has been written in its place.
var ErrTemplateWritten = errors.New("configuration template written")

// TemplateError names the template file the operator has to edit.
type TemplateError struct {
	Path string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("Edit the config file '%s'", e.Path)
}

func (e *TemplateError) Unwrap() error {
	return ErrTemplateWritten
}

// ConfigError is a single problem found while validating the configuration.
type ConfigError struct {
	Key     string
	Mailbox string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Mailbox != "" {
		return fmt.Sprintf("%s (mailbox %q) %s", e.Key, e.Mailbox, e.Reason)
	}
	return fmt.Sprintf("%s %s", e.Key, e.Reason)
}

// MissingFilterError reports a publish rule referencing an undefined filter.
type MissingFilterError struct {
	Name string
}

func (e *MissingFilterError) Error() string {
	return fmt.Sprintf("The filter '%s' is not defined in %s", e.Name, FiltersFile)
}

// StubsWrittenError reports the empty filters added to the filters file for
// names that were referenced but not defined.
type StubsWrittenError struct {
	Path  string
	Names []string
}

func (e *StubsWrittenError) Error() string {
	return fmt.Sprintf("An empty filter has been added to '%s' for %s; edit it before restarting", e.Path, strings.Join(e.Names, ", "))
}
