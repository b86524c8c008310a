// Package archive exports terminal job history to S3-compatible object
// storage as zstd-compressed JSON lines, one job per line.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/store"
)

const keyTimeFormat = "20060102T150405Z"

// Uploader is the part of the S3 upload manager the exporter uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Result describes one export
type Result struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Jobs   int    `json:"jobs"`
	Bytes  int    `json:"bytes"`
}

// Exporter writes job history windows to a bucket.
type Exporter struct {
	store    store.Store
	uploader Uploader
	bucket   string
	prefix   string
	level    zstd.EncoderLevel
	logger   *zap.Logger
}

// NewS3Uploader builds an upload manager from the default AWS credential
// chain. Endpoint and path-style addressing allow S3-compatible stores.
func NewS3Uploader(ctx context.Context, cfg config.ArchiveConfig) (*manager.Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load aws configuration")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = manager.DefaultUploadPartSize
		u.Concurrency = 2
	}), nil
}

// New creates an exporter. A zero compression level selects the zstd default.
func New(st store.Store, uploader Uploader, cfg config.ArchiveConfig) *Exporter {
	level := zstd.SpeedDefault
	if cfg.CompressionLevel > 0 {
		level = zstd.EncoderLevel(cfg.CompressionLevel)
	}
	return &Exporter{
		store:    st,
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		level:    level,
		logger:   logger.Get().With(zap.String("component", "archive")),
	}
}

// Key returns the object key of a window.
func (e *Exporter) Key(window models.Window) string {
	key := fmt.Sprintf("jobs/%s_%s.jsonl.zst",
		window.From.UTC().Format(keyTimeFormat), window.To.UTC().Format(keyTimeFormat))
	if e.prefix == "" {
		return key
	}
	return e.prefix + "/" + key
}

// Export uploads every terminal job started inside window, oldest first.
// An empty window is a NoData error and uploads nothing.
func (e *Exporter) Export(ctx context.Context, window models.Window) (Result, error) {
	if e.bucket == "" {
		return Result{}, errors.New(errors.ErrorTypeConfig, "archive bucket is not configured")
	}

	jobs, err := e.store.List(ctx, store.JobFilter{Window: window})
	if err != nil {
		return Result{}, err
	}
	terminal := jobs[:0]
	for _, job := range jobs {
		if job.Status.IsTerminal() {
			terminal = append(terminal, job)
		}
	}
	if len(terminal) == 0 {
		return Result{}, errors.New(errors.ErrorTypeNoData, "no finished jobs in window")
	}
	store.SortOldestFirst(terminal)

	body, err := e.encode(terminal)
	if err != nil {
		return Result{}, err
	}

	key := e.Key(window)
	_, err = e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(e.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("zstd"),
		Metadata: map[string]string{
			"jobs":    fmt.Sprintf("%d", len(terminal)),
			"from":    window.From.UTC().Format(time.RFC3339),
			"to":      window.To.UTC().Format(time.RFC3339),
			"created": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return Result{}, errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "failed to upload archive").
			WithDetail("key", key)
	}

	res := Result{Bucket: e.bucket, Key: key, Jobs: len(terminal), Bytes: len(body)}
	e.logger.Info("archived job history",
		zap.String("bucket", res.Bucket),
		zap.String("key", res.Key),
		zap.Int("jobs", res.Jobs),
		zap.Int("bytes", res.Bytes))
	return res, nil
}

func (e *Exporter) encode(jobs []*models.SyncJob) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(e.level))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd writer")
	}
	enc := json.NewEncoder(zw)
	for _, job := range jobs {
		if err := enc.Encode(job); err != nil {
			zw.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode job").WithDetail("job_id", job.ID)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to finish zstd stream")
	}
	return buf.Bytes(), nil
}
