package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/models"
	"github.com/molecpathlab/snsxt/internal/shell"
)

// NewDelly2 calls structural variants with Delly2 and converts each call
// type's bcf to vcf, one job per sample.
//
// Settings: input_dir, input_suffix, bin, bcftools_bin, hg19_fa,
// call_types ([[name, arg], ...]), output_SV_bcf_ext, output_SV_vcf_ext.
func NewDelly2(env *Env, spec Spec) (Task, error) {
	b, err := NewBase(env, "Delly2", spec)
	if err != nil {
		return nil, err
	}
	s := b.Settings()
	if err := s.Require("input_dir", "input_suffix", "bin", "bcftools_bin", "hg19_fa", "call_types",
		"output_SV_bcf_ext", "output_SV_vcf_ext"); err != nil {
		return nil, err
	}
	callTypes, err := s.Pairs("call_types")
	if err != nil {
		return nil, fmt.Errorf("task Delly2: %w", err)
	}

	return &QsubSampleTask{
		Base: b,
		Main: func(ctx context.Context, sample *analysis.Sample) (*models.Job, error) {
			bam, err := b.SampleInputPath(sample.ID, "")
			if err != nil {
				return nil, err
			}
			return b.Submit(ctx, sample.ID, delly2Command(b, callTypes, sample.ID, bam))
		},
	}, nil
}

func delly2Command(b *Base, callTypes [][2]string, sampleID, bam string) string {
	s := b.Settings()
	var lines []string
	for _, ct := range callTypes {
		name, arg := ct[0], ct[1]
		bcf := b.OutputPath(sampleID + "." + name + s.String("output_SV_bcf_ext"))
		vcf := b.OutputPath(sampleID + "." + name + s.String("output_SV_vcf_ext"))
		lines = append(lines,
			fmt.Sprintf("%s call -t %s -g %s -o %s %s",
				shell.Quote(s.String("bin")), shell.Quote(arg), shell.Quote(s.String("hg19_fa")), shell.Quote(bcf), shell.Quote(bam)),
			fmt.Sprintf("%s view %s > %s",
				shell.Quote(s.String("bcftools_bin")), shell.Quote(bcf), shell.Quote(vcf)),
		)
	}
	return strings.Join(lines, "\n")
}
