package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	ConfigFile  = "config.toml"
	FiltersFile = "filters.toml"
	StateFile   = "last_poll"

	defaultCycleTimeout = 300
	defaultMaxRetries   = 5
)

// Config is the complete runtime configuration. It is built once at startup
// and passed by reference to the components that need it.
type Config struct {
	Service        bool          `toml:"service"`
	SleepTime      int           `toml:"sleep_time" comment:"minutes between two polls"`
	MarkMailAsSeen *bool         `toml:"mark_mail_as_seen,omitempty"`
	Debug          bool          `toml:"debug"`
	DebugIMAP      bool          `toml:"debug_imap"`
	SinceLastPoll  bool          `toml:"since_last_poll"`
	CycleTimeout   int           `toml:"cycle_timeout,omitempty" comment:"seconds"`
	MaxRetries     *int          `toml:"max_retries,omitempty"`
	Mail           Mail          `toml:"mail"`
	Slack          Slack         `toml:"slack"`
	Publish        []PublishRule `toml:"publish"`

	Dir         string  `toml:"-"`
	LogLevel    string  `toml:"-"`
	LogDir      string  `toml:"-"`
	DryRun      bool    `toml:"-"`
	MetricsAddr string  `toml:"-"`
	Filters     Filters `toml:"-"`
}

type Mail struct {
	IMAP               string `toml:"imap"`
	Port               int    `toml:"port"`
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	UseTLS             *bool  `toml:"use_tls,omitempty"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify,omitempty"`
}

// TLS reports whether the IMAP connection uses implicit TLS (default true).
func (m Mail) TLS() bool {
	return m.UseTLS == nil || *m.UseTLS
}

type Slack struct {
	Webhook  string `toml:"webhook"`
	Username string `toml:"username"`
	Emoji    string `toml:"emoji"`
}

// PublishRule binds a mailbox to destination channels and an optional filter.
type PublishRule struct {
	Mailbox  string   `toml:"mailbox"`
	Channels []string `toml:"channel"`
	Filter   string   `toml:"filter,omitempty"`
}

// MarkSeen reports whether processed messages get the \Seen flag. A dry run
// never touches the mailbox.
func (c Config) MarkSeen() bool {
	if c.DryRun {
		return false
	}
	return c.MarkMailAsSeen == nil || *c.MarkMailAsSeen
}

// SleepInterval is the pause between two poll cycles.
func (c Config) SleepInterval() time.Duration {
	return time.Duration(c.SleepTime) * time.Minute
}

// CycleTimeoutDuration bounds a single poll cycle.
func (c Config) CycleTimeoutDuration() time.Duration {
	if c.CycleTimeout <= 0 {
		return defaultCycleTimeout * time.Second
	}
	return time.Duration(c.CycleTimeout) * time.Second
}

// Retries is the number of consecutive failed cycles tolerated in service mode.
func (c Config) Retries() int {
	if c.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *c.MaxRetries
}

func (c Config) ConfigPath() string  { return filepath.Join(c.Dir, ConfigFile) }
func (c Config) FiltersPath() string { return filepath.Join(c.Dir, FiltersFile) }
func (c Config) StatePath() string   { return filepath.Join(c.Dir, StateFile) }

// RegisterFlags attaches the persistent CLI flags to the root command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultDir, err := defaultConfigDir()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("config-dir", defaultDir, "Directory holding config.toml, filters.toml and the poll checkpoint")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.Bool("once", false, "Run a single poll cycle even if service = true")
	flags.Bool("dry-run", false, "Log messages instead of posting them and never mark mail as seen")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return nil
}

// LoadConfig reads the CLI flags of cmd and the configuration files they
// point to. A missing configuration file is replaced by a template and
// reported as an error so the operator can edit it.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	dir, err := flags.GetString("config-dir")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}
	once, err := flags.GetBool("once")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	metricsAddr, err := flags.GetString("metrics-addr")
	if err != nil {
		return Config{}, err
	}

	if dir == "" {
		dir, err = defaultConfigDir()
		if err != nil {
			return Config{}, err
		}
	}

	cfg, err := Load(filepath.Clean(dir))
	if err != nil {
		return Config{}, err
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}
	if cfg.Debug {
		logLevel = "debug"
	}

	cfg.LogLevel = logLevel
	cfg.LogDir = logDir
	cfg.DryRun = dryRun
	cfg.MetricsAddr = metricsAddr
	if once {
		cfg.Service = false
	}

	return cfg, nil
}

// Load reads config.toml and filters.toml from dir, writing templates for
// files that do not exist yet.
func Load(dir string) (Config, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Config{}, fmt.Errorf("create config directory: %w", err)
	}

	var cfg Config
	var pending []error
	if err := readFile(filepath.Join(dir, ConfigFile), &cfg, Template()); err != nil {
		if !errors.Is(err, ErrTemplateWritten) {
			return Config{}, err
		}
		pending = append(pending, err)
	}

	var filters Filters
	if err := readFile(filepath.Join(dir, FiltersFile), &filters, FiltersTemplate()); err != nil {
		if !errors.Is(err, ErrTemplateWritten) {
			return Config{}, err
		}
		pending = append(pending, err)
	}
	if len(pending) > 0 {
		return Config{}, errors.Join(pending...)
	}

	if cfg.Mail.Password == "" {
		cfg.Mail.Password = os.Getenv("IMAP_PASS")
	}
	cfg.Dir = dir
	cfg.LogLevel = "info"
	cfg.Filters = filters.normalize()
	return cfg, nil
}

// Validate checks the configuration before any network activity and reports
// every problem it finds, not just the first.
func Validate(cfg Config) error {
	var errs []error

	if cfg.Mail.IMAP == "" {
		errs = append(errs, &ConfigError{Key: "mail.imap", Reason: "is required"})
	}
	if cfg.Mail.Port <= 0 || cfg.Mail.Port > 65535 {
		errs = append(errs, &ConfigError{Key: "mail.port", Reason: "must be between 1 and 65535"})
	}
	if cfg.Mail.Username == "" {
		errs = append(errs, &ConfigError{Key: "mail.username", Reason: "is required"})
	}
	if cfg.Mail.Password == "" {
		errs = append(errs, &ConfigError{Key: "mail.password", Reason: "must be set in the config file or via IMAP_PASS"})
	}
	if cfg.Service && cfg.SleepTime <= 0 {
		errs = append(errs, &ConfigError{Key: "sleep_time", Reason: "must be positive when service = true"})
	}
	if cfg.Retries() < 0 {
		errs = append(errs, &ConfigError{Key: "max_retries", Reason: "must not be negative"})
	}
	if !cfg.DryRun && cfg.Slack.Webhook == "" {
		errs = append(errs, &ConfigError{Key: "slack.webhook", Reason: "is required"})
	}
	if len(cfg.Publish) == 0 {
		errs = append(errs, &ConfigError{Key: "publish", Reason: "needs at least one entry"})
	}
	for i, rule := range cfg.Publish {
		key := fmt.Sprintf("publish[%d]", i)
		if rule.Mailbox == "" {
			errs = append(errs, &ConfigError{Key: key + ".mailbox", Reason: "is required"})
		}
		if len(rule.Channels) == 0 {
			errs = append(errs, &ConfigError{Key: key + ".channel", Mailbox: rule.Mailbox, Reason: "needs at least one destination"})
		}
	}
	for _, name := range cfg.MissingFilters() {
		errs = append(errs, &MissingFilterError{Name: name})
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &ConfigError{Key: "--log-level", Reason: fmt.Sprintf("invalid level %q", cfg.LogLevel)})
	}

	return errors.Join(errs...)
}

// MissingFilters lists filter names referenced by publish rules that have
// no definition, in configuration order and without duplicates.
func (c Config) MissingFilters() []string {
	var missing []string
	seen := make(map[string]bool)
	for _, rule := range c.Publish {
		if rule.Filter == "" || seen[rule.Filter] {
			continue
		}
		seen[rule.Filter] = true
		if _, ok := c.Filters.Filter[rule.Filter]; !ok {
			missing = append(missing, rule.Filter)
		}
	}
	return missing
}

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "imap2slack"), nil
}
