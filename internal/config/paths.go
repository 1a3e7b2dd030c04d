// Package config builds the run configuration for snsxt from the site INI
// file, the main YAML file, and command line overrides.
package config

import (
	"os"
	"path/filepath"

	"github.com/molecpathlab/snsxt/internal/constants"
)

// ConfigDirectory returns the per-user snsxt config directory.
//
// Locations:
//   - $XDG_CONFIG_HOME/snsxt when set
//   - ~/.config/snsxt otherwise
func ConfigDirectory() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), constants.AppName)
		}
		return filepath.Join(homeDir, ".config", constants.AppName)
	}
	return filepath.Join(configDir, constants.AppName)
}

// DefaultSiteConfigPath returns the default site.conf location.
func DefaultSiteConfigPath() string {
	return filepath.Join(ConfigDirectory(), constants.SiteConfigName)
}

// DefaultMainConfigPath returns the default snsxt.yml location.
func DefaultMainConfigPath() string {
	return filepath.Join(ConfigDirectory(), constants.MainConfigName)
}

// RunLogDirectory returns the directory for run logs and the job ledger of
// one analysis. A site log_dir takes precedence over the analysis dir.
func RunLogDirectory(analysisDir, siteLogDir string) string {
	if siteLogDir != "" {
		return siteLogDir
	}
	return filepath.Join(analysisDir, constants.RunLogDir)
}
