package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/errkind"
	"github.com/molecpathlab/snsxt/internal/logging"
)

type fakeS3 struct {
	objects map[string]string
	fail    map[string]bool
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if f.fail[key] {
		return nil, errors.New("access denied")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+key] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func TestUploader_Upload(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "NS17-01_results_1_report.html")
	summary := filepath.Join(dir, "summary.tsv")
	for _, f := range []string{report, summary} {
		if err := os.WriteFile(f, []byte(filepath.Base(f)), 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name     string
		files    []string
		fail     map[string]bool
		validate func(t *testing.T, fake *fakeS3, keys []string, err error)
	}{
		{
			name:  "all uploaded",
			files: []string{report, summary},
			validate: func(t *testing.T, fake *fakeS3, keys []string, err error) {
				if err != nil {
					t.Fatalf("Upload() error = %v", err)
				}
				want := []string{
					"snsxt/NS17-01/results_1/NS17-01_results_1_report.html",
					"snsxt/NS17-01/results_1/summary.tsv",
				}
				if !reflect.DeepEqual(keys, want) {
					t.Errorf("keys = %v, want %v", keys, want)
				}
				if got := fake.objects["bucket/snsxt/NS17-01/results_1/summary.tsv"]; got != "summary.tsv" {
					t.Errorf("object body = %q", got)
				}
			},
		},
		{
			name:  "failures do not stop the rest",
			files: []string{filepath.Join(dir, "missing.txt"), report, summary},
			fail:  map[string]bool{"snsxt/NS17-01/results_1/NS17-01_results_1_report.html": true},
			validate: func(t *testing.T, fake *fakeS3, keys []string, err error) {
				if err == nil {
					t.Fatal("Upload() should report the failures")
				}
				if len(keys) != 1 || keys[0] != "snsxt/NS17-01/results_1/summary.tsv" {
					t.Errorf("keys = %v", keys)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeS3{objects: make(map[string]string), fail: tt.fail}
			u := NewUploader(fake, "bucket", "snsxt", logging.NewNopLogger())
			keys, err := u.Upload(context.Background(), "NS17-01", "results_1", tt.files)
			tt.validate(t, fake, keys, err)
		})
	}
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), config.ArchiveConfig{Enabled: true}, logging.NewNopLogger())
	if !errkind.IsArgument(err) {
		t.Errorf("NewS3Uploader() error = %v, want ErrArgument", err)
	}
}
