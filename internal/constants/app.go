package constants

import (
	"time"
)

// Application identity
const (
	AppName = "snsxt"

	// SiteConfigName is the site INI file looked up under the user config dir.
	SiteConfigName = "site.conf"

	// MainConfigName is the main YAML config looked up in snsxt_dir.
	MainConfigName = "snsxt.yml"

	// EffectiveConfigName is written into the analysis dir at the end of every run.
	EffectiveConfigName = "snsxt_config.yml"
)

// Pipeline output contract. These names are shared with the upstream sns
// pipeline and the downstream report tooling and must not change.
const (
	PairsSheetFile     = "samples.pairs.csv"
	FastqManifestFile  = "samples.fastq-raw.csv"
	SettingsFile       = "settings.txt"
	SummaryCombinedWES = "summary-combined.wes.csv"

	QsubLogDir = "logs-qsub"
	RunLogDir  = "logs-snsxt"
	ReportsDir = "reports"

	RunLogName    = "snsxt.log"
	JobLedgerName = "snsxt-jobs.csv"
)

// Keys used in Output.Files for the static pipeline files.
const (
	FileKeyPairsSheet    = "samples_pairs_sheet"
	FileKeyFastqManifest = "samples_fastq_raw"
	FileKeySettings      = "settings"
	FileKeySummary       = "summary_combined_wes"
	FileKeyTargetsBed    = "targets_bed"
)

// Scheduler defaults
const (
	DefaultQsubBin  = "qsub"
	DefaultQstatBin = "qstat"
	DefaultQacctBin = "qacct"

	// DefaultPollInterval between qstat calls while tracking jobs.
	DefaultPollInterval = 15 * time.Second

	// DefaultJobTimeout caps a single MonitorAndValidate call.
	DefaultJobTimeout = 72 * time.Hour

	// MaxConsecutivePollErrors aborts tracking after this many failed polls in a row.
	MaxConsecutivePollErrors = 5

	// PollRequestTimeout bounds a single qstat/qacct round trip.
	PollRequestTimeout = 60 * time.Second

	// LogExcerptLines is the number of matching log lines kept per failed job.
	LogExcerptLines = 3
)

// DefaultErrorMarkers are the strings that flag a scheduler log as failed.
var DefaultErrorMarkers = []string{"ERROR:"}

// Log rotation for the run log
const (
	LogMaxSizeMB  = 10
	LogMaxBackups = 5
	LogMaxAgeDays = 30
)

// Event bus buffering
const (
	EventBusDefaultBuffer = 256
	EventBusMaxBuffer     = 10000
)

// HTTP client timeouts for notification webhooks
const (
	HTTPDialTimeout         = 30 * time.Second
	HTTPDialKeepAlive       = 30 * time.Second
	HTTPIdleConnTimeout     = 90 * time.Second
	HTTPTLSHandshakeTimeout = 30 * time.Second
	HTTPRequestTimeout      = 30 * time.Second

	// DefaultProxyPort is used when a proxy host is given without a port.
	DefaultProxyPort = 8080
)
