package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/dhcgn/imap2slack/config"
)

const filtersTOML = `
[filter.alerts]
subject_case_sensitive = false
subject_contains = ["[alert]"]
subject_not_contains = ["test"]
`

const archive = "From a@example.com Mon Jan  2 15:04:05 2006\n" +
	"From: a@example.com\nSubject: [ALERT] disk full\n\nsda1 at 99%\n\n" +
	"From b@example.com Mon Jan  2 15:05:05 2006\n" +
	"From: b@example.com\nSubject: [ALERT] test message\n\nignore\n\n" +
	"From a@example.com Mon Jan  2 15:06:05 2006\n" +
	"From: a@example.com\nSubject: [ALERT] cpu\n\nload 12\n\n"

func setupDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	data, err := toml.Marshal(config.Template())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFile), data, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.FiltersFile), []byte(filtersTOML), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "imap2slack", SilenceUsage: true, SilenceErrors: true}
	if err := config.RegisterFlags(root); err != nil {
		t.Fatal(err)
	}
	root.AddCommand(NewFilterCheckCmd(), NewValidateCmd())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestFilterCheck(t *testing.T) {
	dir := setupDir(t)
	mboxPath := filepath.Join(dir, "alerts.mbox")
	if err := os.WriteFile(mboxPath, []byte(archive), 0o600); err != nil {
		t.Fatal(err)
	}
	reports := filepath.Join(dir, "reports")

	out, err := execute(t, "--config-dir", dir, "filter-check", mboxPath, "--filter", "alerts", "-o", reports)
	if err != nil {
		t.Fatalf("filter-check error = %v\n%s", err, out)
	}

	for _, want := range []string{
		"Checking 3 messages against filter \"alerts\"",
		"FORWARD\t1\t[ALERT] disk full",
		"SKIP\t2\t[ALERT] test message\t(subject_not_contains)",
		"FORWARD\t3\t[ALERT] cpu",
		"Checked 3 messages: 2 forwarded (66.67%), 1 skipped, 0 undecodable",
		"1. a@example.com (2)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output misses %q:\n%s", want, out)
		}
	}

	csvData, err := os.ReadFile(filepath.Join(reports, "report_from.csv"))
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if string(csvData) != "Value,Count\na@example.com,2\n" {
		t.Errorf("report_from.csv = %q", csvData)
	}
}

func TestFilterCheck_UnknownFilter(t *testing.T) {
	dir := setupDir(t)
	if _, err := execute(t, "--config-dir", dir, "filter-check", "x.mbox", "--filter", "nope"); err == nil {
		t.Error("filter-check should fail for an unknown filter")
	}
}

func TestValidate(t *testing.T) {
	dir := setupDir(t)

	// The template references Filter_1, which the test filters do not define.
	out, err := execute(t, "--config-dir", dir, "validate")
	if err == nil || !strings.Contains(err.Error(), "Filter_1") {
		t.Fatalf("validate error = %v, want missing Filter_1\n%s", err, out)
	}

	out, err = execute(t, "--config-dir", dir, "validate")
	if err != nil {
		t.Fatalf("validate after stub error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "configuration OK: 2 publish rules, 2 filters") {
		t.Errorf("output = %q", out)
	}
}

func TestValidate_WritesTemplates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")
	_, err := execute(t, "--config-dir", dir, "validate")
	if err == nil || !strings.Contains(err.Error(), "Edit the config file") {
		t.Fatalf("validate error = %v, want template notice", err)
	}
	for _, name := range []string{config.ConfigFile, config.FiltersFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}
