package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/errkind"
	"github.com/molecpathlab/snsxt/internal/qsub/qsubtest"
)

const annotHeader = "Chr\tStart\tEnd\tRef\tAlt\tGene\n"

func TestWriteNonOverlapping(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tsv")
	ref := filepath.Join(dir, "ref.tsv")
	out := filepath.Join(dir, "out.tsv")
	writeFile(t, in, annotHeader+
		"chr1\t100\t100\tA\tG\tGENE1\n"+
		"chr1\t200\t200\tC\tT\tGENE2\n"+
		"chr2\t300\t300\tG\tA\tGENE3\n")
	writeFile(t, ref, annotHeader+
		"chr1\t100\t100\tA\tG\tOTHER\n"+
		"chr2\t300\t300\tG\tC\tGENE3\n")

	kept, err := writeNonOverlapping(in, ref, out, 5)
	if err != nil {
		t.Fatalf("writeNonOverlapping() error = %v", err)
	}
	if kept != 2 {
		t.Errorf("kept = %d, want 2", kept)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	want := annotHeader +
		"chr1\t200\t200\tC\tT\tGENE2\n" +
		"chr2\t300\t300\tG\tA\tGENE3\n"
	if string(data) != want {
		t.Errorf("output =\n%s\nwant\n%s", data, want)
	}
}

func TestHapMapVariantRef(t *testing.T) {
	a := newTestAnalysis(t)
	env := newTestEnv(t, qsubtest.New(), &fakeRunner{})
	writeFile(t, filepath.Join(env.Config.TasksFilesDir, "hapmap.tsv"), annotHeader+"chr1\t100\t100\tA\tG\tGENE1\n")

	step := annotStep
	writeFile(t, filepath.Join(a.RootDir, step, "S1.annot.txt"), annotHeader+"chr1\t100\t100\tA\tG\tGENE1\n")
	writeFile(t, filepath.Join(a.RootDir, step, "S2.annot.txt"), annotHeader+"chr1\t100\t100\tA\tG\tGENE1\n")
	writeFile(t, filepath.Join(a.RootDir, step, "X.annot.txt"), annotHeader+"chr1\t100\t100\tA\tG\tGENE1\n")
	writeFile(t, filepath.Join(a.RootDir, step, "HapMap-B17.annot.txt"),
		annotHeader+"chr1\t100\t100\tA\tG\tGENE1\nchr5\t5\t5\tT\tC\tGENE5\n")
	writeFile(t, filepath.Join(a.RootDir, "samples.fastq-raw.csv"),
		"S1,a\nS2,b\nX,c\nHapMap-B17,d\nNoAnnot,e\n")
	if err := a.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	settings := config.NewTaskSettings("HapMapVariantRef", map[string]any{
		"input_dir":           step,
		"input_pattern":       "*.annot.txt",
		"hapmap_variant_file": "hapmap.tsv",
	})
	task, err := NewHapMapVariantRef(env, Spec{Analysis: a, Settings: settings})
	if err != nil {
		t.Fatalf("NewHapMapVariantRef() error = %v", err)
	}

	_, err = task.Run(context.Background())
	if !errkind.IsInputMissing(err) {
		t.Fatalf("Run() error = %v, want ErrInputFileMissing for NoAnnot", err)
	}

	outDir := filepath.Join(a.RootDir, "HapMapVariantRef")
	data, err := os.ReadFile(filepath.Join(outDir, "HapMap-B17.annot.txt"))
	if err != nil {
		t.Fatalf("HapMap output missing: %v", err)
	}
	if want := annotHeader + "chr5\t5\t5\tT\tC\tGENE5\n"; string(data) != want {
		t.Errorf("HapMap output = %q, want %q", data, want)
	}
	if _, err := os.Stat(filepath.Join(outDir, "S1.annot.txt")); !os.IsNotExist(err) {
		t.Errorf("non-HapMap sample should not be filtered, stat error = %v", err)
	}
}

func TestHapMapVariantRef_MissingReference(t *testing.T) {
	a := newTestAnalysis(t)
	env := newTestEnv(t, qsubtest.New(), &fakeRunner{})
	settings := config.NewTaskSettings("HapMapVariantRef", map[string]any{
		"input_dir":           "VCF",
		"input_pattern":       "*.txt",
		"hapmap_variant_file": "missing.tsv",
	})
	if _, err := NewHapMapVariantRef(env, Spec{Analysis: a, Settings: settings}); !errkind.IsInputMissing(err) {
		t.Errorf("NewHapMapVariantRef() error = %v, want ErrInputFileMissing", err)
	}
}

func TestSummaryAvgCoverage(t *testing.T) {
	a := newTestAnalysis(t)
	runner := &fakeRunner{}
	env := newTestEnv(t, qsubtest.New(), runner)
	script := filepath.Join(env.Config.TasksScriptsDir, "avg_cov.R")
	writeFile(t, script, "#!/usr/bin/env Rscript\n")
	annot := filepath.Join(env.Config.TasksScriptsDir, "annotate.R")
	writeFile(t, annot, "#!/usr/bin/env Rscript\n")

	settings := config.NewTaskSettings("SummaryAvgCoverage", map[string]any{
		"input_dir":         bamStep,
		"run_script":        "avg_cov.R",
		"annotation_script": "annotate.R",
		"ANNOVAR_bin_dir":   "/opt/annovar",
		"ANNOVAR_db_dir":    "/opt/annovar/db",
		"ANNOVAR_genome":    "hg19",
	})
	task, err := NewSummaryAvgCoverage(env, Spec{Analysis: a, Settings: settings})
	if err != nil {
		t.Fatalf("NewSummaryAvgCoverage() error = %v", err)
	}
	if _, err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(runner.calls) != 2 {
		t.Fatalf("ran %d commands, want run script then annotation", len(runner.calls))
	}
	outDir := filepath.Join(a.RootDir, "SummaryAvgCoverage")
	want := script + " -d " + filepath.Join(a.RootDir, bamStep) + " -o " + outDir
	if runner.calls[0].Script != want || runner.calls[0].Dir != env.Config.TasksScriptsDir {
		t.Errorf("run command = %+v, want %q", runner.calls[0], want)
	}
	if runner.calls[1].Dir != outDir {
		t.Errorf("annotation dir = %q, want %q", runner.calls[1].Dir, outDir)
	}
}
