package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/molecpathlab/snsxt/internal/constants"
)

// SiteConfig holds the per-installation settings that do not belong in the
// shared snsxt.yml: scheduler binaries, notification and archive targets.
//
// Config file location: ~/.config/snsxt/site.conf
//
// INI format:
//
//	[scheduler]
//	qsub_bin = qsub
//	qstat_bin = qstat
//	qacct_bin = qacct
//	queue = all.q
//	extra_params = -pe threaded 4
//	poll_interval_seconds = 15
//	job_timeout_minutes = 4320
//	error_markers = ERROR:,Exception in thread
//
//	[notify]
//	enabled = true
//	webhook_url = https://hooks.example.org/snsxt
//	recipients = lab@example.org
//
//	[archive]
//	enabled = false
//	bucket = molecpath-results
//	prefix = snsxt
//	region = us-east-1
//
//	[proxy]
//	mode = basic
//	host = proxy.example.org
//	port = 3128
//	user =
//	password =
//	no_proxy = .example.org,10.0.0.0/8
//
//	[logging]
//	log_dir =
type SiteConfig struct {
	Scheduler SchedulerConfig
	Notify    NotifyConfig
	Archive   ArchiveConfig
	Logging   LoggingConfig
}

// SchedulerConfig configures the cluster scheduler boundary.
type SchedulerConfig struct {
	QsubBin  string `ini:"qsub_bin"`
	QstatBin string `ini:"qstat_bin"`
	QacctBin string `ini:"qacct_bin"`

	// Queue is passed as -q when set.
	Queue string `ini:"queue"`

	// ExtraParams are appended to every qsub call, whitespace separated.
	ExtraParams string `ini:"extra_params"`

	// PollIntervalSeconds between qstat calls.
	// Minimum: 1, Default: 15
	PollIntervalSeconds int `ini:"poll_interval_seconds"`

	// JobTimeoutMinutes caps one tracking call.
	// Minimum: 1, Default: 4320 (72 hours)
	JobTimeoutMinutes int `ini:"job_timeout_minutes"`

	// ErrorMarkers is a comma-separated list of strings that flag a log as failed.
	ErrorMarkers string `ini:"error_markers"`
}

// NotifyConfig configures run notifications.
type NotifyConfig struct {
	Enabled    bool   `ini:"enabled" yaml:"enabled"`
	WebhookURL string `ini:"webhook_url" yaml:"webhook_url,omitempty"`

	// Recipients is a comma-separated list forwarded to the webhook.
	Recipients string `ini:"recipients" yaml:"recipients,omitempty"`

	// Proxy is read from the [proxy] section.
	Proxy ProxyConfig `ini:"-" yaml:"proxy,omitempty"`
}

// Proxy modes
const (
	ProxyModeNone   = "no-proxy"
	ProxyModeSystem = "system"
	ProxyModeBasic  = "basic"
	ProxyModeNTLM   = "ntlm"
)

// ProxyConfig is the outbound proxy used for webhook notifications.
type ProxyConfig struct {
	Mode     string `ini:"mode" yaml:"mode,omitempty"`
	Host     string `ini:"host" yaml:"host,omitempty"`
	Port     int    `ini:"port" yaml:"port,omitempty"`
	User     string `ini:"user" yaml:"user,omitempty"`
	Password string `ini:"password" yaml:"-"`
	NoProxy  string `ini:"no_proxy" yaml:"no_proxy,omitempty"`
}

// ArchiveConfig configures the upload of report and email files.
type ArchiveConfig struct {
	Enabled bool   `ini:"enabled" yaml:"enabled"`
	Bucket  string `ini:"bucket" yaml:"bucket,omitempty"`
	Prefix  string `ini:"prefix" yaml:"prefix,omitempty"`
	Region  string `ini:"region" yaml:"region,omitempty"`
}

// LoggingConfig overrides where run logs are written.
type LoggingConfig struct {
	// LogDir replaces <analysis>/logs-snsxt when set.
	LogDir string `ini:"log_dir"`
}

// SiteConfig validation errors
var (
	ErrSiteInvalidPollInterval = errors.New("poll_interval_seconds must be at least 1")
	ErrSiteInvalidJobTimeout   = errors.New("job_timeout_minutes must be at least 1")
	ErrSiteMissingWebhookURL   = errors.New("webhook_url is required when notify is enabled")
	ErrSiteMissingBucket       = errors.New("bucket is required when archive is enabled")
	ErrSiteInvalidProxyMode    = errors.New("proxy mode must be no-proxy, system, basic or ntlm")
	ErrSiteMissingProxyHost    = errors.New("proxy host is required for basic and ntlm modes")
)

// NewSiteConfig creates a SiteConfig with default values.
func NewSiteConfig() *SiteConfig {
	return &SiteConfig{
		Scheduler: SchedulerConfig{
			QsubBin:             constants.DefaultQsubBin,
			QstatBin:            constants.DefaultQstatBin,
			QacctBin:            constants.DefaultQacctBin,
			PollIntervalSeconds: int(constants.DefaultPollInterval.Seconds()),
			JobTimeoutMinutes:   int(constants.DefaultJobTimeout.Minutes()),
			ErrorMarkers:        strings.Join(constants.DefaultErrorMarkers, ","),
		},
		Archive: ArchiveConfig{
			Prefix: constants.AppName,
		},
	}
}

// LoadSiteConfig loads configuration from the site.conf file.
// If path is empty, uses the default path.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func LoadSiteConfig(path string) (*SiteConfig, error) {
	cfg := NewSiteConfig()

	if path == "" {
		path = DefaultSiteConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load site.conf: %w", err)
	}

	// Parse [scheduler] section
	schedSection := iniFile.Section("scheduler")
	cfg.Scheduler.QsubBin = schedSection.Key("qsub_bin").MustString(constants.DefaultQsubBin)
	cfg.Scheduler.QstatBin = schedSection.Key("qstat_bin").MustString(constants.DefaultQstatBin)
	cfg.Scheduler.QacctBin = schedSection.Key("qacct_bin").MustString(constants.DefaultQacctBin)
	cfg.Scheduler.Queue = schedSection.Key("queue").String()
	cfg.Scheduler.ExtraParams = schedSection.Key("extra_params").String()
	cfg.Scheduler.PollIntervalSeconds = schedSection.Key("poll_interval_seconds").MustInt(cfg.Scheduler.PollIntervalSeconds)
	cfg.Scheduler.JobTimeoutMinutes = schedSection.Key("job_timeout_minutes").MustInt(cfg.Scheduler.JobTimeoutMinutes)
	cfg.Scheduler.ErrorMarkers = schedSection.Key("error_markers").MustString(cfg.Scheduler.ErrorMarkers)

	// Parse [notify] section
	notifySection := iniFile.Section("notify")
	cfg.Notify.Enabled = notifySection.Key("enabled").MustBool(false)
	cfg.Notify.WebhookURL = notifySection.Key("webhook_url").String()
	cfg.Notify.Recipients = notifySection.Key("recipients").String()

	// Parse [proxy] section
	proxySection := iniFile.Section("proxy")
	cfg.Notify.Proxy.Mode = proxySection.Key("mode").String()
	cfg.Notify.Proxy.Host = proxySection.Key("host").String()
	cfg.Notify.Proxy.Port = proxySection.Key("port").MustInt(0)
	cfg.Notify.Proxy.User = proxySection.Key("user").String()
	cfg.Notify.Proxy.Password = proxySection.Key("password").String()
	cfg.Notify.Proxy.NoProxy = proxySection.Key("no_proxy").String()

	// Parse [archive] section
	archiveSection := iniFile.Section("archive")
	cfg.Archive.Enabled = archiveSection.Key("enabled").MustBool(false)
	cfg.Archive.Bucket = archiveSection.Key("bucket").String()
	cfg.Archive.Prefix = archiveSection.Key("prefix").MustString(constants.AppName)
	cfg.Archive.Region = archiveSection.Key("region").String()

	// Parse [logging] section
	cfg.Logging.LogDir = iniFile.Section("logging").Key("log_dir").String()

	return cfg, nil
}

// SaveSiteConfig saves configuration to the site.conf file.
// If path is empty, uses the default path.
// Creates parent directories if they don't exist.
func SaveSiteConfig(cfg *SiteConfig, path string) error {
	if path == "" {
		path = DefaultSiteConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	schedSection, err := iniFile.NewSection("scheduler")
	if err != nil {
		return fmt.Errorf("failed to create scheduler section: %w", err)
	}
	schedSection.Key("qsub_bin").SetValue(cfg.Scheduler.QsubBin)
	schedSection.Key("qstat_bin").SetValue(cfg.Scheduler.QstatBin)
	schedSection.Key("qacct_bin").SetValue(cfg.Scheduler.QacctBin)
	schedSection.Key("queue").SetValue(cfg.Scheduler.Queue)
	schedSection.Key("extra_params").SetValue(cfg.Scheduler.ExtraParams)
	schedSection.Key("poll_interval_seconds").SetValue(fmt.Sprintf("%d", cfg.Scheduler.PollIntervalSeconds))
	schedSection.Key("job_timeout_minutes").SetValue(fmt.Sprintf("%d", cfg.Scheduler.JobTimeoutMinutes))
	schedSection.Key("error_markers").SetValue(cfg.Scheduler.ErrorMarkers)

	notifySection, err := iniFile.NewSection("notify")
	if err != nil {
		return fmt.Errorf("failed to create notify section: %w", err)
	}
	notifySection.Key("enabled").SetValue(fmt.Sprintf("%t", cfg.Notify.Enabled))
	notifySection.Key("webhook_url").SetValue(cfg.Notify.WebhookURL)
	notifySection.Key("recipients").SetValue(cfg.Notify.Recipients)

	proxySection, err := iniFile.NewSection("proxy")
	if err != nil {
		return fmt.Errorf("failed to create proxy section: %w", err)
	}
	proxySection.Key("mode").SetValue(cfg.Notify.Proxy.Mode)
	proxySection.Key("host").SetValue(cfg.Notify.Proxy.Host)
	if cfg.Notify.Proxy.Port > 0 {
		proxySection.Key("port").SetValue(fmt.Sprintf("%d", cfg.Notify.Proxy.Port))
	}
	proxySection.Key("user").SetValue(cfg.Notify.Proxy.User)
	proxySection.Key("password").SetValue(cfg.Notify.Proxy.Password)
	proxySection.Key("no_proxy").SetValue(cfg.Notify.Proxy.NoProxy)

	archiveSection, err := iniFile.NewSection("archive")
	if err != nil {
		return fmt.Errorf("failed to create archive section: %w", err)
	}
	archiveSection.Key("enabled").SetValue(fmt.Sprintf("%t", cfg.Archive.Enabled))
	archiveSection.Key("bucket").SetValue(cfg.Archive.Bucket)
	archiveSection.Key("prefix").SetValue(cfg.Archive.Prefix)
	archiveSection.Key("region").SetValue(cfg.Archive.Region)

	loggingSection, err := iniFile.NewSection("logging")
	if err != nil {
		return fmt.Errorf("failed to create logging section: %w", err)
	}
	loggingSection.Key("log_dir").SetValue(cfg.Logging.LogDir)

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks if the site configuration is valid.
func (cfg *SiteConfig) Validate() error {
	if cfg.Scheduler.PollIntervalSeconds < 1 {
		return ErrSiteInvalidPollInterval
	}
	if cfg.Scheduler.JobTimeoutMinutes < 1 {
		return ErrSiteInvalidJobTimeout
	}
	if cfg.Notify.Enabled && strings.TrimSpace(cfg.Notify.WebhookURL) == "" {
		return ErrSiteMissingWebhookURL
	}
	if cfg.Archive.Enabled && strings.TrimSpace(cfg.Archive.Bucket) == "" {
		return ErrSiteMissingBucket
	}
	switch strings.ToLower(cfg.Notify.Proxy.Mode) {
	case "", ProxyModeNone, ProxyModeSystem:
	case ProxyModeBasic, ProxyModeNTLM:
		if strings.TrimSpace(cfg.Notify.Proxy.Host) == "" {
			return ErrSiteMissingProxyHost
		}
	default:
		return ErrSiteInvalidProxyMode
	}
	return nil
}

// GetErrorMarkers returns the scheduler error markers as a slice.
func (cfg *SiteConfig) GetErrorMarkers() []string {
	return splitList(cfg.Scheduler.ErrorMarkers, ",")
}

// GetRecipients returns the notification recipients as a slice.
func (cfg *SiteConfig) GetRecipients() []string {
	return cfg.Notify.RecipientList()
}

// RecipientList splits Recipients on commas.
func (n NotifyConfig) RecipientList() []string {
	return splitList(n.Recipients, ",")
}

// GetExtraParams returns the extra qsub parameters as a slice.
func (cfg *SiteConfig) GetExtraParams() []string {
	return strings.Fields(cfg.Scheduler.ExtraParams)
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
