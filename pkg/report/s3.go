package report

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adamd9/thelastquiz/pkg/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// defaultKeyPrefix roots mirrored run directories in the bucket when no
// prefix is configured.
const defaultKeyPrefix = "assets/runs"

// Uploader mirrors a run's asset directory to remote storage.
type Uploader interface {
	// Preflight verifies connectivity before any run traffic is served.
	Preflight(ctx context.Context) error

	// Upload pushes every file under localDir, keyed by the directory's
	// base name under the configured prefix.
	Upload(ctx context.Context, localDir string) error
}

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log    logrus.FieldLogger
	bucket string
	prefix string
	client *s3.Client
}

// Compile-time interface check.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates an S3 uploader from the given configuration.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
) (Uploader, error) {
	opts := s3.Options{Region: "us-east-1"}

	if cfg.Region != "" {
		opts.Region = cfg.Region
	}

	if cfg.EndpointURL != "" {
		opts.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	opts.UsePathStyle = cfg.ForcePathStyle

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)
	}

	prefix := strings.TrimRight(cfg.Prefix, "/")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &s3Uploader{
		log:    log.WithField("component", "s3-uploader"),
		bucket: cfg.Bucket,
		prefix: prefix,
		client: s3.New(opts),
	}, nil
}

// Preflight verifies connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	body := "write test: " + time.Now().UTC().Format(time.RFC3339)

	err := u.put(ctx, ".thelastquiz-write-test",
		strings.NewReader(body), "text/plain")
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.bucket, err)
	}

	return nil
}

// Upload walks localDir and mirrors every file it contains.
func (u *s3Uploader) Upload(ctx context.Context, localDir string) error {
	root := u.prefix + "/" + filepath.Base(localDir)

	var count int

	err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		key := root + "/" + filepath.ToSlash(rel)

		if err := u.put(ctx, key, f, contentType(path)); err != nil {
			return fmt.Errorf("uploading %s: %w", rel, err)
		}

		count++

		return nil
	})
	if err != nil {
		return fmt.Errorf("mirroring %s: %w", localDir, err)
	}

	u.log.WithFields(logrus.Fields{
		"files":  count,
		"bucket": u.bucket,
		"prefix": root,
	}).Info("Asset mirror completed")

	return nil
}

func (u *s3Uploader) put(
	ctx context.Context, key string, body io.Reader, ctype string,
) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(ctype),
	})

	return err
}

// contentType picks a MIME type from the file extension.
func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}
