package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const configTOML = `
service = true
sleep_time = 2
debug = false
debug_imap = false
since_last_poll = true
max_retries = 0

[mail]
imap = "imap.example.com"
port = 993
username = "me@example.com"
password = ""

[slack]
webhook = "https://hooks.slack.com/services/a/b/c"
username = "BOT"
emoji = "robot_face"

[[publish]]
mailbox = "Inbox"
channel = ["#one", "#two"]

[[publish]]
mailbox = "Alerts"
channel = ["#alerts"]
filter = "Alerts"
`

const filtersTOML = `
[filter.Alerts]
subject_case_sensitive = true
subject_contains = ["[ALERT]"]
message_not_regex = ["(?i)resolved"]
`

func writeFiles(t *testing.T, cfg, filters string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, FiltersFile), []byte(filters), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	t.Setenv("IMAP_PASS", "from-env")
	dir := writeFiles(t, configTOML, filtersTOML)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Service || cfg.SleepInterval() != 2*time.Minute || !cfg.SinceLastPoll {
		t.Errorf("service/sleep/since = %v/%v/%v", cfg.Service, cfg.SleepInterval(), cfg.SinceLastPoll)
	}
	if cfg.Retries() != 0 || cfg.CycleTimeoutDuration() != 300*time.Second {
		t.Errorf("retries/timeout = %d/%v", cfg.Retries(), cfg.CycleTimeoutDuration())
	}
	if !cfg.MarkSeen() || !cfg.Mail.TLS() {
		t.Error("mark_mail_as_seen and use_tls must default to true")
	}
	if cfg.Mail.Password != "from-env" {
		t.Errorf("password = %q, want IMAP_PASS fallback", cfg.Mail.Password)
	}

	wantPublish := []PublishRule{
		{Mailbox: "Inbox", Channels: []string{"#one", "#two"}},
		{Mailbox: "Alerts", Channels: []string{"#alerts"}, Filter: "Alerts"},
	}
	if diff := cmp.Diff(wantPublish, cfg.Publish); diff != "" {
		t.Errorf("publish mismatch (-want +got):\n%s", diff)
	}

	wantFilter := FilterRule{
		Name:            "Alerts",
		CaseSensitive:   true,
		SubjectContains: []string{"[ALERT]"},
		MessageNotRegex: []string{"(?i)resolved"},
	}
	if diff := cmp.Diff(wantFilter, cfg.Filters.Filter["Alerts"]); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}

	cfg.LogLevel = "info"
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_WritesTemplates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "imap2slack")

	_, err := Load(dir)
	if !errors.Is(err, ErrTemplateWritten) {
		t.Fatalf("Load() error = %v, want ErrTemplateWritten", err)
	}
	if !strings.Contains(err.Error(), filepath.Join(dir, ConfigFile)) || !strings.Contains(err.Error(), filepath.Join(dir, FiltersFile)) {
		t.Errorf("error %q should name both files", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() of the templates error = %v", err)
	}
	if diff := cmp.Diff(Template().Publish, cfg.Publish); diff != "" {
		t.Errorf("template publish mismatch (-want +got):\n%s", diff)
	}
	if _, ok := cfg.Filters.Filter["Filter_1"]; !ok {
		t.Error("filter template missing Filter_1")
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	dir := writeFiles(t, "sleeptime = 3\n"+configTOML, filtersTOML)
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "sleeptime") {
		t.Fatalf("Load() error = %v, want unknown key sleeptime", err)
	}
}

func TestLoad_SyntaxError(t *testing.T) {
	dir := writeFiles(t, "service = \n", filtersTOML)
	if _, err := Load(dir); err == nil {
		t.Fatal("Load() should fail on a syntax error")
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Config{
		Service:   true,
		LogLevel:  "loud",
		Mail:      Mail{Port: 70000},
		Publish:   []PublishRule{{Channels: nil, Filter: "Missing"}, {Mailbox: "Inbox", Channels: []string{"#x"}, Filter: "Missing"}},
		Filters:   Filters{Filter: map[string]FilterRule{}},
		SleepTime: 0,
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() should fail")
	}

	var keys []string
	var missing []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var cerr *ConfigError
		var merr *MissingFilterError
		switch {
		case errors.As(e, &cerr):
			keys = append(keys, cerr.Key)
		case errors.As(e, &merr):
			missing = append(missing, merr.Name)
		}
	}

	wantKeys := []string{
		"mail.imap", "mail.port", "mail.username", "mail.password", "sleep_time",
		"slack.webhook", "publish[0].mailbox", "publish[0].channel", "--log-level",
	}
	if diff := cmp.Diff(wantKeys, keys, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("reported keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Missing"}, missing); diff != "" {
		t.Errorf("missing filters mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkSeen_DryRun(t *testing.T) {
	seen := true
	cfg := Config{MarkMailAsSeen: &seen, DryRun: true}
	if cfg.MarkSeen() {
		t.Error("a dry run must never mark mail as seen")
	}
	off := false
	cfg = Config{MarkMailAsSeen: &off}
	if cfg.MarkSeen() {
		t.Error("mark_mail_as_seen = false must be honoured")
	}
}

func TestWriteFilterStubs(t *testing.T) {
	dir := writeFiles(t, configTOML, filtersTOML)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := WriteFilterStubs(cfg.FiltersPath(), cfg.Filters, []string{"New", "Alerts"}); err != nil {
		t.Fatalf("WriteFilterStubs() error = %v", err)
	}

	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("Load() after stubs error = %v", err)
	}
	if diff := cmp.Diff([]string{"Alerts", "New"}, cfg.Filters.Names()); diff != "" {
		t.Errorf("filters mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(StubFilter("New"), cfg.Filters.Filter["New"]); diff != "" {
		t.Errorf("stub mismatch (-want +got):\n%s", diff)
	}
	if !cfg.Filters.Filter["Alerts"].CaseSensitive {
		t.Error("existing filter was overwritten by a stub")
	}
}
