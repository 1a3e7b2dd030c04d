package tasks

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/errkind"
	"github.com/molecpathlab/snsxt/internal/validation"
)

var hapmapSample = regexp.MustCompile(`(?i)^hapmap`)

// NewHapMapVariantRef filters the annotated variants of HapMap control
// samples down to the ones absent from the HapMap reference variant list.
// Other samples are checked for input and otherwise left alone.
//
// Settings: input_dir, input_pattern, hapmap_variant_file (relative to
// tasks_files_dir), key_columns (default 5).
func NewHapMapVariantRef(env *Env, spec Spec) (Task, error) {
	b, err := NewBase(env, "HapMapVariantRef", spec)
	if err != nil {
		return nil, err
	}
	s := b.Settings()
	if err := s.Require("input_dir", "input_pattern", "hapmap_variant_file"); err != nil {
		return nil, err
	}
	refFile := s.String("hapmap_variant_file")
	if !filepath.IsAbs(refFile) {
		refFile = filepath.Join(env.Config.TasksFilesDir, refFile)
	}
	if err := validation.ValidateInputs([]string{refFile}); err != nil {
		return nil, fmt.Errorf("task HapMapVariantRef: %w", err)
	}
	keyColumns := s.Int("key_columns", 5)

	return &AnalysisSampleTask{
		Base: b,
		Main: func(ctx context.Context, sample *analysis.Sample) error {
			annot, err := sample.OutputFile(s.String("input_dir"), s.String("input_pattern"))
			if err != nil {
				return err
			}
			if annot == "" {
				return errkind.New(errkind.ErrInputFileMissing,
					fmt.Sprintf("no annotation file for sample %s", sample.ID))
			}
			if !hapmapSample.MatchString(sample.ID) {
				return nil
			}

			out := b.OutputPath(filepath.Base(annot))
			kept, err := writeNonOverlapping(annot, refFile, out, keyColumns)
			if err != nil {
				return err
			}
			b.Logger().Info().Str("sample", sample.ID).Int("variants", kept).Str("output", out).
				Msg("Wrote variants not in the HapMap reference")
			return nil
		},
	}, nil
}

// writeNonOverlapping copies the header and every row of in whose first
// keyColumns fields do not appear in ref. Both files are tab separated with
// a header row. It returns the number of rows written.
func writeNonOverlapping(in, ref, out string, keyColumns int) (int, error) {
	refKeys := make(map[string]bool)
	err := readTSV(ref, func(row []string, header bool) error {
		if !header {
			refKeys[rowKey(row, keyColumns)] = true
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	f, err := os.Create(out)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", out, err)
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'

	kept := 0
	err = readTSV(in, func(row []string, header bool) error {
		if header || !refKeys[rowKey(row, keyColumns)] {
			if !header {
				kept++
			}
			return w.Write(row)
		}
		return nil
	})
	w.Flush()
	if err == nil {
		err = w.Error()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return kept, err
}

func readTSV(path string, fn func(row []string, header bool) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	for line := 0; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := fn(row, line == 0); err != nil {
			return err
		}
	}
}

func rowKey(row []string, n int) string {
	if n > len(row) {
		n = len(row)
	}
	return strings.Join(row[:n], "\t")
}
