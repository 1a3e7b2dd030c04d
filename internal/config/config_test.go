package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/errkind"
)

const testMainYAML = `
sns_repo_dir: sns
tasks_config_dir: config/tasks
reports_dir: reports
report:
  analysis_id_file: analysis_id.txt
  results_id_file: results_id.txt
  main_report: main_report.Rmd
  report_files: [styles.css]
  compile_script: compile_report.sh
analysis_output_index:
  _parent:
    file_types: [".csv"]
  BAM-GATK-RA-RC:
    file_types: [".bam"]
    file_patterns: ["*.dd.ra.rc.bam"]
  logs-qsub: {}
`

func writeMain(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snsxt.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuilder_Build(t *testing.T) {
	tests := []struct {
		name      string
		main      string
		site      func(*SiteConfig)
		overrides Overrides
		validate  func(t *testing.T, cfg *Config, dir string, err error)
	}{
		{
			name: "paths resolved against config dir",
			main: testMainYAML,
			validate: func(t *testing.T, cfg *Config, dir string, err error) {
				if err != nil {
					t.Fatalf("Build() error = %v", err)
				}
				if cfg.SnsxtDir != dir {
					t.Errorf("SnsxtDir = %q, want %q", cfg.SnsxtDir, dir)
				}
				if cfg.TasksConfigDir != filepath.Join(dir, "config", "tasks") {
					t.Errorf("TasksConfigDir = %q", cfg.TasksConfigDir)
				}
				if cfg.Report.MainReport != filepath.Join(dir, "reports", "main_report.Rmd") {
					t.Errorf("MainReport = %q", cfg.Report.MainReport)
				}
				if cfg.Report.ReportFiles[0] != filepath.Join(dir, "reports", "styles.css") {
					t.Errorf("ReportFiles = %v", cfg.Report.ReportFiles)
				}
				if _, ok := cfg.OutputIndex["BAM-GATK-RA-RC"]; !ok {
					t.Errorf("OutputIndex missing BAM-GATK-RA-RC: %v", cfg.OutputIndex)
				}
				if cfg.Scheduler.PollInterval != constants.DefaultPollInterval {
					t.Errorf("PollInterval = %v", cfg.Scheduler.PollInterval)
				}
				if !reflect.DeepEqual(cfg.ErrorMarkers, []string{"ERROR:"}) {
					t.Errorf("ErrorMarkers = %v", cfg.ErrorMarkers)
				}
			},
		},
		{
			name: "yaml markers beat site markers, flags beat both",
			main: testMainYAML + "error_markers: [FATAL]\n",
			site: func(s *SiteConfig) {
				s.Scheduler.ErrorMarkers = "SITE"
				s.Scheduler.Queue = "all.q"
			},
			overrides: Overrides{PollInterval: time.Second, DebugMode: true, ReportsDir: "/srv/reports"},
			validate: func(t *testing.T, cfg *Config, dir string, err error) {
				if err != nil {
					t.Fatalf("Build() error = %v", err)
				}
				if !reflect.DeepEqual(cfg.ErrorMarkers, []string{"FATAL"}) {
					t.Errorf("ErrorMarkers = %v", cfg.ErrorMarkers)
				}
				if cfg.Scheduler.PollInterval != time.Second || cfg.Scheduler.Queue != "all.q" {
					t.Errorf("Scheduler = %+v", cfg.Scheduler)
				}
				if !cfg.DebugMode {
					t.Error("DebugMode not applied")
				}
				if cfg.ReportsDir != "/srv/reports" || cfg.Report.MainReport != "/srv/reports/main_report.Rmd" {
					t.Errorf("ReportsDir = %q, MainReport = %q", cfg.ReportsDir, cfg.Report.MainReport)
				}
			},
		},
		{
			name: "missing required keys",
			main: "sns_repo_dir: sns\n",
			validate: func(t *testing.T, cfg *Config, dir string, err error) {
				if !errkind.IsArgument(err) {
					t.Fatalf("error = %v, want ErrArgument", err)
				}
				items := errkind.ItemsOf(err)
				if !reflect.DeepEqual(items, []string{"tasks_config_dir", "reports_dir", "analysis_output_index"}) {
					t.Errorf("missing keys = %v", items)
				}
			},
		},
		{
			name: "unknown key rejected",
			main: testMainYAML + "tasks_confg_dir: typo\n",
			validate: func(t *testing.T, cfg *Config, dir string, err error) {
				if err == nil || !strings.Contains(err.Error(), "tasks_confg_dir") {
					t.Errorf("error = %v, want unknown field error", err)
				}
			},
		},
		{
			name: "invalid site config",
			main: testMainYAML,
			site: func(s *SiteConfig) { s.Scheduler.PollIntervalSeconds = 0 },
			validate: func(t *testing.T, cfg *Config, dir string, err error) {
				if err == nil {
					t.Error("expected site validation error")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mainPath := writeMain(t, tt.main)
			site := NewSiteConfig()
			if tt.site != nil {
				tt.site(site)
			}
			cfg, err := NewBuilder().
				WithMainFile(mainPath).
				WithSite(site).
				WithOverrides(tt.overrides).
				Build()
			tt.validate(t, cfg, filepath.Dir(mainPath), err)
		})
	}
}

func TestBuilder_MissingMainFile(t *testing.T) {
	_, err := NewBuilder().
		WithMainFile(filepath.Join(t.TempDir(), "missing.yml")).
		WithSite(NewSiteConfig()).
		Build()
	if !errkind.IsArgument(err) {
		t.Errorf("error = %v, want ErrArgument", err)
	}
}

func TestConfig_Require(t *testing.T) {
	cfg := &Config{TasksConfigDir: "/t"}
	if err := cfg.Require("tasks_config_dir"); err != nil {
		t.Errorf("Require(set key) = %v", err)
	}
	err := cfg.Require("sns_repo_dir", "tasks_config_dir", "bogus")
	if !reflect.DeepEqual(errkind.ItemsOf(err), []string{"sns_repo_dir", "bogus"}) {
		t.Errorf("Require() items = %v", errkind.ItemsOf(err))
	}
}

func TestConfig_SaveEffective(t *testing.T) {
	cfg, err := NewBuilder().WithMainFile(writeMain(t, testMainYAML)).WithSite(NewSiteConfig()).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	dir := filepath.Join(t.TempDir(), "analysis")
	run := RunInfo{RunID: "r-1", AnalysisID: "NS17-01", ResultsID: "results_1", AnalysisDir: dir, Status: "failed", Error: "boom"}
	path, err := cfg.SaveEffective(dir, run)
	if err != nil {
		t.Fatalf("SaveEffective() error = %v", err)
	}
	if path != filepath.Join(dir, constants.EffectiveConfigName) {
		t.Errorf("path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var saved struct {
		Run    RunInfo `yaml:"run"`
		Config Config  `yaml:"config"`
	}
	if err := yaml.Unmarshal(data, &saved); err != nil {
		t.Fatalf("saved file is not valid YAML: %v", err)
	}
	if saved.Run.AnalysisID != "NS17-01" || saved.Run.Error != "boom" {
		t.Errorf("Run = %+v", saved.Run)
	}
	if saved.Config.TasksConfigDir != cfg.TasksConfigDir {
		t.Errorf("Config.TasksConfigDir = %q", saved.Config.TasksConfigDir)
	}
	if saved.Config.Scheduler.JobTimeout != cfg.Scheduler.JobTimeout {
		t.Errorf("JobTimeout = %v, want %v", saved.Config.Scheduler.JobTimeout, cfg.Scheduler.JobTimeout)
	}
}
