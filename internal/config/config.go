package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/errkind"
)

// ReportConfig locates the report template and its helpers. Relative paths
// are resolved against reports_dir.
type ReportConfig struct {
	AnalysisIDFile string   `yaml:"analysis_id_file"`
	ResultsIDFile  string   `yaml:"results_id_file"`
	MainReport     string   `yaml:"main_report"`
	ReportFiles    []string `yaml:"report_files,omitempty"`
	CompileScript  string   `yaml:"compile_script,omitempty"`
}

// mainFile mirrors snsxt.yml.
type mainFile struct {
	SnsxtDir            string               `yaml:"snsxt_dir"`
	SnsRepoDir          string               `yaml:"sns_repo_dir"`
	TasksConfigDir      string               `yaml:"tasks_config_dir"`
	TasksScriptsDir     string               `yaml:"tasks_scripts_dir"`
	TasksFilesDir       string               `yaml:"tasks_files_dir"`
	ReportsDir          string               `yaml:"reports_dir"`
	Report              ReportConfig         `yaml:"report"`
	AnalysisOutputIndex analysis.OutputIndex `yaml:"analysis_output_index"`
	ErrorMarkers        []string             `yaml:"error_markers"`
}

// Scheduler is the resolved scheduler section.
type Scheduler struct {
	QsubBin      string        `yaml:"qsub_bin"`
	QstatBin     string        `yaml:"qstat_bin"`
	QacctBin     string        `yaml:"qacct_bin"`
	Queue        string        `yaml:"queue,omitempty"`
	ExtraParams  []string      `yaml:"extra_params,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
}

// Config is the run configuration. It is assembled once by a Builder and
// only read afterwards.
type Config struct {
	SnsxtDir        string               `yaml:"snsxt_dir"`
	SnsRepoDir      string               `yaml:"sns_repo_dir,omitempty"`
	TasksConfigDir  string               `yaml:"tasks_config_dir"`
	TasksScriptsDir string               `yaml:"tasks_scripts_dir,omitempty"`
	TasksFilesDir   string               `yaml:"tasks_files_dir,omitempty"`
	ReportsDir      string               `yaml:"reports_dir"`
	Report          ReportConfig         `yaml:"report"`
	OutputIndex     analysis.OutputIndex `yaml:"analysis_output_index"`
	ErrorMarkers    []string             `yaml:"error_markers"`
	Scheduler       Scheduler            `yaml:"scheduler"`
	Notify          NotifyConfig         `yaml:"notify"`
	Archive         ArchiveConfig        `yaml:"archive"`
	LogDir          string               `yaml:"log_dir,omitempty"`
	DebugMode       bool                 `yaml:"debug_mode"`
	MinFreeSpace    uint64               `yaml:"min_free_space,omitempty"`

	MainConfigPath string `yaml:"main_config_path,omitempty"`
	SiteConfigPath string `yaml:"site_config_path,omitempty"`
}

// Overrides are command line values applied after both files.
// Zero values leave the file value in place.
type Overrides struct {
	SnsRepoDir     string
	TasksConfigDir string
	ReportsDir     string
	LogDir         string
	PollInterval   time.Duration
	JobTimeout     time.Duration
	ErrorMarkers   []string
	DebugMode      bool
	MinFreeSpace   uint64 // bytes; checked before the sns stage
}

// Builder assembles a Config from defaults, site.conf, snsxt.yml and
// overrides, in that order.
type Builder struct {
	sitePath  string
	mainPath  string
	site      *SiteConfig
	overrides Overrides
}

// NewBuilder returns a Builder using the default file locations.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithSiteFile sets the site.conf path. Empty keeps the default.
func (b *Builder) WithSiteFile(path string) *Builder {
	b.sitePath = path
	return b
}

// WithSite uses an already loaded site config instead of reading one.
func (b *Builder) WithSite(site *SiteConfig) *Builder {
	b.site = site
	return b
}

// WithMainFile sets the snsxt.yml path. Empty keeps the default.
func (b *Builder) WithMainFile(path string) *Builder {
	b.mainPath = path
	return b
}

// WithOverrides sets the command line overrides.
func (b *Builder) WithOverrides(o Overrides) *Builder {
	b.overrides = o
	return b
}

// Build loads both files and returns a validated Config.
func (b *Builder) Build() (*Config, error) {
	site := b.site
	sitePath := b.sitePath
	if sitePath == "" {
		sitePath = DefaultSiteConfigPath()
	}
	if site == nil {
		var err error
		site, err = LoadSiteConfig(sitePath)
		if err != nil {
			return nil, err
		}
	}
	if err := site.Validate(); err != nil {
		return nil, fmt.Errorf("invalid site config %s: %w", sitePath, err)
	}

	mainPath := b.mainPath
	if mainPath == "" {
		mainPath = DefaultMainConfigPath()
	}
	mf, err := loadMainFile(mainPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SnsxtDir:        mf.SnsxtDir,
		SnsRepoDir:      mf.SnsRepoDir,
		TasksConfigDir:  mf.TasksConfigDir,
		TasksScriptsDir: mf.TasksScriptsDir,
		TasksFilesDir:   mf.TasksFilesDir,
		ReportsDir:      mf.ReportsDir,
		Report:          mf.Report,
		OutputIndex:     mf.AnalysisOutputIndex,
		ErrorMarkers:    site.GetErrorMarkers(),
		Scheduler: Scheduler{
			QsubBin:      site.Scheduler.QsubBin,
			QstatBin:     site.Scheduler.QstatBin,
			QacctBin:     site.Scheduler.QacctBin,
			Queue:        site.Scheduler.Queue,
			ExtraParams:  site.GetExtraParams(),
			PollInterval: time.Duration(site.Scheduler.PollIntervalSeconds) * time.Second,
			JobTimeout:   time.Duration(site.Scheduler.JobTimeoutMinutes) * time.Minute,
		},
		Notify:         site.Notify,
		Archive:        site.Archive,
		LogDir:         site.Logging.LogDir,
		MainConfigPath: mainPath,
		SiteConfigPath: sitePath,
	}
	if len(mf.ErrorMarkers) > 0 {
		cfg.ErrorMarkers = mf.ErrorMarkers
	}

	b.applyOverrides(cfg)

	if cfg.SnsxtDir == "" {
		cfg.SnsxtDir = filepath.Dir(mainPath)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if len(cfg.ErrorMarkers) == 0 {
		cfg.ErrorMarkers = constants.DefaultErrorMarkers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (b *Builder) applyOverrides(cfg *Config) {
	o := b.overrides
	if o.SnsRepoDir != "" {
		cfg.SnsRepoDir = o.SnsRepoDir
	}
	if o.TasksConfigDir != "" {
		cfg.TasksConfigDir = o.TasksConfigDir
	}
	if o.ReportsDir != "" {
		cfg.ReportsDir = o.ReportsDir
	}
	if o.LogDir != "" {
		cfg.LogDir = o.LogDir
	}
	if o.PollInterval > 0 {
		cfg.Scheduler.PollInterval = o.PollInterval
	}
	if o.JobTimeout > 0 {
		cfg.Scheduler.JobTimeout = o.JobTimeout
	}
	if len(o.ErrorMarkers) > 0 {
		cfg.ErrorMarkers = o.ErrorMarkers
	}
	cfg.DebugMode = o.DebugMode
	if o.MinFreeSpace > 0 {
		cfg.MinFreeSpace = o.MinFreeSpace
	}
}

func loadMainFile(path string) (*mainFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errkind.New(errkind.ErrArgument, "main config file not found", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var mf mainFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &mf, nil
}

// resolvePaths makes directories absolute against snsxt_dir and report
// files absolute against reports_dir.
func (cfg *Config) resolvePaths() error {
	base, err := filepath.Abs(cfg.SnsxtDir)
	if err != nil {
		return fmt.Errorf("failed to resolve snsxt_dir: %w", err)
	}
	cfg.SnsxtDir = base

	for _, dir := range []*string{&cfg.SnsRepoDir, &cfg.TasksConfigDir, &cfg.TasksScriptsDir, &cfg.TasksFilesDir, &cfg.ReportsDir} {
		*dir = resolve(base, *dir)
	}
	cfg.Report.MainReport = resolve(cfg.ReportsDir, cfg.Report.MainReport)
	cfg.Report.CompileScript = resolve(cfg.ReportsDir, cfg.Report.CompileScript)
	for i, f := range cfg.Report.ReportFiles {
		cfg.Report.ReportFiles[i] = resolve(cfg.ReportsDir, f)
	}
	return nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// Validate checks that every key needed before any task runs is present.
func (cfg *Config) Validate() error {
	return cfg.Require("tasks_config_dir", "reports_dir", "analysis_output_index")
}

// Require returns an ErrArgument error naming every listed key that is unset.
func (cfg *Config) Require(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if !cfg.has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errkind.New(errkind.ErrArgument, "missing required config keys", missing...)
	}
	return nil
}

func (cfg *Config) has(key string) bool {
	switch key {
	case "snsxt_dir":
		return cfg.SnsxtDir != ""
	case "sns_repo_dir":
		return cfg.SnsRepoDir != ""
	case "tasks_config_dir":
		return cfg.TasksConfigDir != ""
	case "tasks_scripts_dir":
		return cfg.TasksScriptsDir != ""
	case "tasks_files_dir":
		return cfg.TasksFilesDir != ""
	case "reports_dir":
		return cfg.ReportsDir != ""
	case "analysis_output_index":
		return len(cfg.OutputIndex) > 0
	case "main_report":
		return cfg.Report.MainReport != ""
	default:
		return false
	}
}

// YAML renders the config as it would be saved.
func (cfg *Config) YAML() ([]byte, error) {
	return yaml.Marshal(cfg)
}

// RunInfo describes one run for the effective config file.
type RunInfo struct {
	RunID        string    `yaml:"run_id"`
	AnalysisID   string    `yaml:"analysis_id"`
	ResultsID    string    `yaml:"results_id,omitempty"`
	AnalysisDir  string    `yaml:"analysis_dir"`
	TaskListPath string    `yaml:"task_list,omitempty"`
	StartedAt    time.Time `yaml:"started_at"`
	FinishedAt   time.Time `yaml:"finished_at"`
	Status       string    `yaml:"status"`
	Error        string    `yaml:"error,omitempty"`
}

type effectiveConfig struct {
	Run    RunInfo `yaml:"run"`
	Config Config  `yaml:"config"`
}

// SaveEffective writes snsxt_config.yml into dir and returns its path.
func (cfg *Config) SaveEffective(dir string, run RunInfo) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	data, err := yaml.Marshal(effectiveConfig{Run: run, Config: *cfg})
	if err != nil {
		return "", fmt.Errorf("failed to encode effective config: %w", err)
	}

	path := filepath.Join(dir, constants.EffectiveConfigName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write effective config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to save effective config: %w", err)
	}
	return path, nil
}
