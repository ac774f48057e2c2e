package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

const defaultTimeout = 30 * time.Second

// Slack posts messages to an incoming webhook. The destination is used as
// channel override.
type Slack struct {
	webhook  string
	username string
	emoji    string
	client   *http.Client
	logger   *slog.Logger
}

type SlackOptions struct {
	Webhook  string
	Username string
	Emoji    string
	// Client defaults to an http.Client with a 30s timeout.
	Client *http.Client
}

func NewSlack(opts SlackOptions, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Slack{
		webhook:  opts.Webhook,
		username: opts.Username,
		emoji:    opts.Emoji,
		client:   client,
		logger:   logger,
	}
}

// Send posts one attachment with the sender line as pretext.
func (s *Slack) Send(ctx context.Context, text, title, sender, destination string) error {
	msg := &slack.WebhookMessage{
		Channel:   destination,
		Username:  s.username,
		IconEmoji: iconEmoji(s.emoji),
		Attachments: []slack.Attachment{{
			Fallback: title,
			Pretext:  sender,
			Title:    title,
			Text:     text,
		}},
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhook, s.client, msg); err != nil {
		return fmt.Errorf("post to %s: %w", destination, err)
	}
	s.logger.Debug("posted to slack", "channel", destination, "title", title)
	return nil
}

func iconEmoji(name string) string {
	name = strings.Trim(strings.TrimSpace(name), ":")
	if name == "" {
		return ""
	}
	return ":" + name + ":"
}

// Log writes messages to the logger instead of delivering them.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Log{logger: logger}
}

func (l *Log) Send(_ context.Context, text, title, sender, destination string) error {
	l.logger.Info("dry-run: would post message",
		"channel", destination,
		"title", title,
		"sender", sender,
		"bytes", len(text),
	)
	return nil
}
