package mbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dhcgn/imap2slack/message"
	"github.com/dhcgn/imap2slack/model"
)

const archive = "From alice@example.com Mon Jan  2 15:04:05 2006\n" +
	"From: alice@example.com\n" +
	"Subject: [Something] first\n" +
	"\n" +
	"hello\n" +
	"\n" +
	"From bob@example.com Mon Jan  2 16:04:05 2006\n" +
	"From: bob@example.com\n" +
	"Subject: broken\n" +
	"Content-Transfer-Encoding: base64\n" +
	"\n" +
	"!!!\n" +
	"\n" +
	"From carol@example.com Mon Jan  2 17:04:05 2006\n" +
	"From: =?UTF-8?Q?Carol_M=C3=BCller?= <carol@example.com>\n" +
	"Subject: third\n" +
	"\n" +
	">From the archive\n" +
	"\n"

func writeArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mbox")
	if err := os.WriteFile(path, []byte(archive), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRead(t *testing.T) {
	path := writeArchive(t)

	var envs []model.Envelope
	err := Read(path, func(env model.Envelope) error {
		envs = append(envs, env)
		return nil
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(envs) != 3 {
		t.Fatalf("got %d messages, want 3", len(envs))
	}

	if envs[0].Err != nil || envs[0].Record.Subject() != "[Something] first" || envs[0].Record.ID() != 1 {
		t.Errorf("first = %+v", envs[0])
	}
	var derr *message.DecodeError
	if !errors.As(envs[1].Err, &derr) || derr.ID != 2 {
		t.Errorf("second error = %v, want DecodeError for message 2", envs[1].Err)
	}
	if envs[2].Record.From() != "Carol Müller <carol@example.com>" {
		t.Errorf("third From() = %q", envs[2].Record.From())
	}
	if !strings.Contains(envs[2].Record.Body(), "From the archive") {
		t.Errorf("third Body() = %q", envs[2].Record.Body())
	}
	if envs[0].Mailbox != path {
		t.Errorf("Mailbox = %q, want %q", envs[0].Mailbox, path)
	}
}

func TestRead_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := Read(writeArchive(t), func(model.Envelope) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("Read() = %v after %d calls", err, calls)
	}
}

func TestRead_MissingFile(t *testing.T) {
	if err := Read(filepath.Join(t.TempDir(), "nope.mbox"), nil); err == nil {
		t.Error("Read() should fail for a missing file")
	}
	if err := Read(" ", nil); err == nil {
		t.Error("Read() should fail for an empty path")
	}
}

func TestCountMessages(t *testing.T) {
	n, err := CountMessages(writeArchive(t))
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if n != 3 {
		t.Errorf("CountMessages() = %d, want 3", n)
	}
}
