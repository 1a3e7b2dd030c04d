package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/molecpathlab/snsxt/internal/errkind"
)

func TestParseTaskList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		validate func(t *testing.T, list *TaskList, err error)
	}{
		{
			name: "mapping form keeps file order",
			input: `
sns:
  StartSns:
    fastq_dirs: [/data/fastq]
    targets_bed: /data/targets.bed
  SnsWes:
tasks:
  Delly2:
    qsub_wait: false
  GATKDepthOfCoverageCustom:
  SummaryAvgCoverage:
setup_report: true
`,
			validate: func(t *testing.T, list *TaskList, err error) {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				want := []string{"StartSns", "SnsWes", "Delly2", "GATKDepthOfCoverageCustom", "SummaryAvgCoverage"}
				if got := list.Names(); !reflect.DeepEqual(got, want) {
					t.Errorf("Names() = %v, want %v", got, want)
				}
				if !list.SetupReport {
					t.Error("SetupReport = false")
				}
				if list.Tasks[0].Wait() {
					t.Error("Delly2 Wait() = true, want false")
				}
				if !list.Tasks[1].Wait() {
					t.Error("GATK Wait() = false, want default true")
				}
				dirs, ok := list.Sns[0].Params["fastq_dirs"].([]any)
				if !ok || len(dirs) != 1 {
					t.Errorf("fastq_dirs = %#v", list.Sns[0].Params["fastq_dirs"])
				}
			},
		},
		{
			name:  "sequence form",
			input: "tasks:\n  - Delly2\n  - HapMapVariantRef: {qsub_wait: false}\n",
			validate: func(t *testing.T, list *TaskList, err error) {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got := list.Names(); !reflect.DeepEqual(got, []string{"Delly2", "HapMapVariantRef"}) {
					t.Errorf("Names() = %v", got)
				}
				if list.Tasks[1].Wait() {
					t.Error("Wait() = true, want false")
				}
				if list.SetupReport {
					t.Error("SetupReport should default to false")
				}
			},
		},
		{
			name:  "empty document",
			input: "",
			validate: func(t *testing.T, list *TaskList, err error) {
				if err != nil || len(list.Names()) != 0 {
					t.Errorf("got %v, %v; want empty list", list, err)
				}
			},
		},
		{
			name:  "unknown top level key",
			input: "task:\n  Delly2:\n",
			validate: func(t *testing.T, list *TaskList, err error) {
				if !errkind.IsArgument(err) {
					t.Errorf("error = %v, want ErrArgument", err)
				}
			},
		},
		{
			name:  "scalar params rejected",
			input: "tasks:\n  Delly2: yes\n",
			validate: func(t *testing.T, list *TaskList, err error) {
				if err == nil {
					t.Error("expected error for scalar params")
				}
			},
		},
		{
			name:  "not a mapping",
			input: "- Delly2\n",
			validate: func(t *testing.T, list *TaskList, err error) {
				if !errkind.IsArgument(err) {
					t.Errorf("error = %v, want ErrArgument", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := ParseTaskList([]byte(tt.input))
			tt.validate(t, list, err)
		})
	}
}

func TestLoadTaskList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wes.yml")
	if err := os.WriteFile(path, []byte("tasks:\n  Delly2:\n"), 0644); err != nil {
		t.Fatal(err)
	}
	list, err := LoadTaskList(path)
	if err != nil {
		t.Fatalf("LoadTaskList() error = %v", err)
	}
	if list.Path != path {
		t.Errorf("Path = %q", list.Path)
	}

	if _, err := LoadTaskList(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("expected error for missing file")
	}
}
