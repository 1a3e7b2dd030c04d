// Package archive uploads the files a run produced for people (email
// attachments, the compiled report) to S3 under
// <prefix>/<analysis id>/<results id>/.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"

	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/errkind"
	"github.com/molecpathlab/snsxt/internal/logging"
)

// PutObjectAPI is the part of the S3 client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies local files into one bucket.
type Uploader struct {
	client PutObjectAPI
	bucket string
	prefix string
	logger *logging.Logger
}

// NewUploader wraps an existing client.
func NewUploader(client PutObjectAPI, bucket, prefix string, logger *logging.Logger) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// NewS3Uploader builds an uploader from the archive config using the
// default AWS credential chain.
func NewS3Uploader(ctx context.Context, cfg config.ArchiveConfig, logger *logging.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errkind.New(errkind.ErrArgument, "archive bucket is not configured")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewUploader(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix, logger), nil
}

// Key returns the object key for file.
func (u *Uploader) Key(analysisID, resultsID, file string) string {
	return path.Join(u.prefix, analysisID, resultsID, filepath.Base(file))
}

// Upload puts every file and returns the keys written. Every file is
// attempted; failures are joined into the returned error.
func (u *Uploader) Upload(ctx context.Context, analysisID, resultsID string, files []string) ([]string, error) {
	started := time.Now()
	var keys []string
	var errs []error
	var total int64

	for _, file := range files {
		key := u.Key(analysisID, resultsID, file)
		size, err := u.put(ctx, key, file)
		if err != nil {
			u.logger.Warn().Err(err).Str("file", file).Msg("Failed to archive file")
			errs = append(errs, err)
			continue
		}
		total += size
		keys = append(keys, key)
		u.logger.Debug().Str("key", key).Str("size", humanize.Bytes(uint64(size))).Msg("Archived file")
	}

	u.logger.Info().Str("bucket", u.bucket).Int("files", len(keys)).
		Str("size", humanize.Bytes(uint64(total))).
		Dur("elapsed", time.Since(started).Round(time.Millisecond)).
		Msg("Run files archived")
	return keys, errors.Join(errs...)
}

func (u *Uploader) put(ctx context.Context, key, file string) (int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", file, err)
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s to s3://%s/%s: %w", file, u.bucket, key, err)
	}
	return info.Size(), nil
}
