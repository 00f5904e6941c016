// Package export uploads file store snapshots to S3.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/discordwell/cliaas/pkg/clock"
	"github.com/discordwell/cliaas/pkg/errors"
)

// Uploader is the part of manager.Uploader the exporter uses
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Config locates the destination bucket
type Config struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint overrides the S3 endpoint for S3-compatible stores; it
	// also switches to path-style addressing.
	Endpoint string

	PartSize    int64
	Concurrency int
}

// Object is one uploaded file
type Object struct {
	Connector string
	Key       string
	Location  string
	Bytes     int64
}

// Result summarizes an export run
type Result struct {
	SnapshotAt time.Time
	Objects    []Object
}

// Bytes totals the uploaded size
func (r *Result) Bytes() int64 {
	var n int64
	for _, o := range r.Objects {
		n += o.Bytes
	}
	return n
}

// S3Exporter copies per-connector store directories to S3
type S3Exporter struct {
	bucket   string
	prefix   string
	uploader Uploader
	clock    clock.Clock
	logger   *zap.Logger
}

// NewS3Exporter loads the default AWS credential chain and builds a
// multipart uploader
func NewS3Exporter(ctx context.Context, cfg Config, logger *zap.Logger) (*S3Exporter, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "export: bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "export: load AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})
	return NewS3ExporterWithUploader(uploader, cfg.Bucket, cfg.Prefix, clock.Real(), logger), nil
}

// NewS3ExporterWithUploader wraps an existing uploader
func NewS3ExporterWithUploader(u Uploader, bucket, prefix string, c clock.Clock, logger *zap.Logger) *S3Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = clock.Real()
	}
	return &S3Exporter{
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		uploader: u,
		clock:    c,
		logger:   logger.With(zap.String("component", "s3_exporter")),
	}
}

// ObjectKey places a file under a date-partitioned snapshot path:
// <prefix>/<connector>/year=YYYY/month=MM/day=DD/<snapshot>/<name>
func ObjectKey(prefix, connector, name string, at time.Time) string {
	at = at.UTC()
	parts := []string{
		connector,
		fmt.Sprintf("year=%d/month=%02d/day=%02d", at.Year(), at.Month(), at.Day()),
		at.Format("20060102T150405Z"),
		name,
	}
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// ExportDir uploads the store files of each connector found under dir.
// An empty connectors list exports every connector directory.
func (e *S3Exporter) ExportDir(ctx context.Context, dir string, connectors []string) (*Result, error) {
	if len(connectors) == 0 {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "export: read "+dir)
		}
		for _, entry := range entries {
			if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
				connectors = append(connectors, entry.Name())
			}
		}
	}
	sort.Strings(connectors)

	res := &Result{SnapshotAt: e.clock.Now().UTC()}
	for _, connector := range connectors {
		objs, err := e.exportConnector(ctx, filepath.Join(dir, connector), connector, res.SnapshotAt)
		res.Objects = append(res.Objects, objs...)
		if err != nil {
			return res, err
		}
	}
	e.logger.Info("export completed",
		zap.String("bucket", e.bucket),
		zap.Int("objects", len(res.Objects)),
		zap.Int64("bytes", res.Bytes()))
	return res, nil
}

func (e *S3Exporter) exportConnector(ctx context.Context, dir, connector string, at time.Time) ([]Object, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "export: read "+dir)
	}

	var objs []Object
	for _, entry := range entries {
		name := entry.Name()
		// Skip directories and in-progress temp files
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		obj, err := e.upload(ctx, filepath.Join(dir, name), connector, name, at)
		if err != nil {
			return objs, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

func (e *S3Exporter) upload(ctx context.Context, path, connector, name string, at time.Time) (Object, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the store directory listing
	if err != nil {
		return Object{}, errors.Wrap(err, errors.ErrorTypeFile, "export: open "+path)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Object{}, errors.Wrap(err, errors.ErrorTypeFile, "export: stat "+path)
	}

	key := ObjectKey(e.prefix, connector, name, at)
	start := time.Now()
	out, err := e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(name)),
		Metadata: map[string]string{
			"connector": connector,
			"snapshot":  at.Format(time.RFC3339),
		},
	})
	if err != nil {
		return Object{}, errors.Wrap(err, errors.ErrorTypeConnection, "export: upload "+key)
	}

	obj := Object{Connector: connector, Key: key, Bytes: info.Size()}
	if out != nil {
		obj.Location = out.Location
	}
	e.logger.Debug("uploaded snapshot file",
		zap.String("key", key),
		zap.Int64("bytes", obj.Bytes),
		zap.Duration("duration", time.Since(start)))
	return obj, nil
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(name, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(name, ".jsonl"):
		return "application/x-ndjson"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
