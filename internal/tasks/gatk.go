package tasks

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/errkind"
	"github.com/molecpathlab/snsxt/internal/models"
	"github.com/molecpathlab/snsxt/internal/shell"
)

var gatkRequired = []string{
	"input_dir", "input_pattern", "bin", "ref_fasta", "thresholds",
	"minBaseQuality", "minMappingQuality", "nBins", "start", "stop",
	"outputFormat", "readFilter", "downsampling_type",
}

// NewGATKDepthOfCoverageCustom runs GATK DepthOfCoverage with custom
// coverage thresholds over the targets bed, one job per sample.
func NewGATKDepthOfCoverageCustom(env *Env, spec Spec) (Task, error) {
	b, err := NewBase(env, "GATKDepthOfCoverageCustom", spec)
	if err != nil {
		return nil, err
	}
	s := b.Settings()
	if err := s.Require(gatkRequired...); err != nil {
		return nil, err
	}

	return &QsubSampleTask{
		Base: b,
		Main: func(ctx context.Context, sample *analysis.Sample) (*models.Job, error) {
			bam, err := sample.OutputFile(s.String("input_dir"), s.String("input_pattern"))
			if err != nil {
				return nil, err
			}
			if bam == "" {
				return nil, errkind.New(errkind.ErrInputFileMissing,
					fmt.Sprintf("no %s file for sample %s in %s", s.String("input_pattern"), sample.ID, s.String("input_dir")))
			}
			targets := sample.File(constants.FileKeyTargetsBed)
			if targets == "" {
				return nil, errkind.New(errkind.ErrInputFileMissing, "no targets bed in analysis", sample.AnalysisDir())
			}
			return b.Submit(ctx, sample.ID, gatkDepthOfCoverageCommand(b, sample.ID, bam, targets))
		},
	}, nil
}

func gatkDepthOfCoverageCommand(b *Base, sampleID, bam, intervals string) string {
	s := b.Settings()
	var thresholds []string
	for _, t := range s.Ints("thresholds") {
		thresholds = append(thresholds, "-ct "+strconv.Itoa(t))
	}
	args := []string{
		"java", "-Xms16G", "-Xmx16G", "-jar", shell.Quote(s.String("bin")), "-T", "DepthOfCoverage",
		"--logging_level", "ERROR",
		"--downsampling_type", shell.Quote(s.String("downsampling_type")),
		"--read_filter", shell.Quote(s.String("readFilter")),
		"--reference_sequence", shell.Quote(s.String("ref_fasta")),
		"--omitDepthOutputAtEachBase",
		strings.Join(thresholds, " "),
		"--intervals", shell.Quote(intervals),
		"--minBaseQuality", strconv.Itoa(s.Int("minBaseQuality", 0)),
		"--minMappingQuality", strconv.Itoa(s.Int("minMappingQuality", 0)),
		"--nBins", strconv.Itoa(s.Int("nBins", 0)),
		"--start", strconv.Itoa(s.Int("start", 0)),
		"--stop", strconv.Itoa(s.Int("stop", 0)),
		"--input_file", shell.Quote(bam),
		"--outputFormat", shell.Quote(s.String("outputFormat")),
		"--out", shell.Quote(b.OutputPath(sampleID)),
	}
	return strings.Join(args, " ")
}
