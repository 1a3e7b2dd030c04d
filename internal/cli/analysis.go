package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/core"
)

func loadAnalysis(target runFlags) (*analysis.Output, error) {
	cfg, err := loadConfig(config.Overrides{})
	if err != nil {
		return nil, err
	}
	dir, aid, rid, err := core.ResolveTarget(target.options())
	if err != nil {
		return nil, err
	}
	return analysis.NewAnalysisOutput(dir, aid, rid, cfg.OutputIndex, analysis.Options{
		ErrorMarkers: cfg.ErrorMarkers,
		Logger:       GetLogger(),
	})
}

// newValidateCmd creates the 'validate' command.
func newValidateCmd() *cobra.Command {
	var target runFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that an analysis is complete",
		Long: `Check the static files of an analysis and scan its qsub logs for
error messages. Exits non-zero when any check fails.

Example:
  snsxt validate -d /data/NGS580/NS17-01/results_1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadAnalysis(target)
			if err != nil {
				return err
			}
			a.Validate()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", a)
			checks := a.Validations()
			names := make([]string, 0, len(checks))
			for name := range checks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				mark := "ok"
				if !checks[name] {
					mark = "FAIL"
				}
				fmt.Fprintf(out, "  %-28s %s\n", name, mark)
			}
			for _, path := range a.LogErrors() {
				fmt.Fprintf(out, "  log with errors: %s\n", path)
			}
			return a.ValidationError()
		},
	}
	target.register(cmd)
	return cmd
}

// newSamplesCmd creates the 'samples' command.
func newSamplesCmd() *cobra.Command {
	var (
		target  runFlags
		step    string
		pattern string
	)

	cmd := &cobra.Command{
		Use:   "samples",
		Short: "List the samples of an analysis",
		Long: `List sample ids from the raw fastq manifest. With --step the first
matching output file of each sample in that step is shown.

Example:
  snsxt samples -d /data/NGS580/NS17-01/results_1 --step BAM-GATK-RA-RC --pattern '*.bam'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadAnalysis(target)
			if err != nil {
				return err
			}
			samples, err := a.GetSamples()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range samples {
				if step == "" {
					fmt.Fprintln(out, s.ID)
					continue
				}
				file, err := s.OutputFile(step, pattern)
				if err != nil {
					return err
				}
				if file == "" {
					file = "-"
				}
				fmt.Fprintf(out, "%s\t%s\n", s.ID, file)
			}
			return nil
		},
	}
	target.register(cmd)
	cmd.Flags().StringVar(&step, "step", "", "Analysis step to look up sample files in")
	cmd.Flags().StringVar(&pattern, "pattern", "*", "File pattern used with --step")
	return cmd
}
