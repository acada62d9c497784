package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/ppiankov/ec2spectre/internal/collector"
)

// ContentTypeCSV is the content type of every emitted object.
const ContentTypeCSV = "text/csv"

// ErrNoBucket is returned when emission is requested without a bucket.
var ErrNoBucket = errors.New("no destination bucket configured")

// PutObjectAPI is the subset of the S3 client the emitter needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Emitter uploads CSV reports to a bucket under a date-partitioned key.
type Emitter struct {
	api        PutObjectAPI
	bucket     string
	prefix     string
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewEmitter creates an emitter writing to bucket under prefix.
func NewEmitter(api PutObjectAPI, bucket, prefix string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		api:        api,
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
		maxRetries: 3,
		baseDelay:  time.Second,
		logger:     logger,
	}
}

// NewEmitterFromConfig creates an emitter backed by an S3 client.
func NewEmitterFromConfig(cfg aws.Config, bucket, prefix string, logger *slog.Logger) *Emitter {
	return NewEmitter(s3.NewFromConfig(cfg), bucket, prefix, logger)
}

// Bucket returns the destination bucket.
func (e *Emitter) Bucket() string {
	return e.bucket
}

// Key builds the object key for a report generated at ts:
// <prefix>/<name>/YYYY/MM/DD/<name>_YYYYMMDD_HHMMSS.csv
func (e *Emitter) Key(name string, ts time.Time) string {
	ts = ts.UTC()
	key := fmt.Sprintf("%s/%s/%s_%s.csv",
		name, ts.Format("2006/01/02"), name, ts.Format("20060102_150405"))
	if e.prefix == "" {
		return key
	}
	return e.prefix + "/" + key
}

// Put uploads body under the key for name and returns the key.
func (e *Emitter) Put(ctx context.Context, name string, ts time.Time, body []byte) (string, error) {
	if e.bucket == "" {
		return "", ErrNoBucket
	}
	key := e.Key(name, ts)
	err := e.WithRetry(ctx, func() error {
		_, err := e.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(e.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(ContentTypeCSV),
		}, func(o *s3.Options) {
			// WithRetry owns retries for uploads
			o.Retryer = aws.NopRetryer{}
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", e.bucket, key, err)
	}
	e.logger.Info("Report uploaded", "bucket", e.bucket, "key", key, "bytes", len(body))
	return key, nil
}

// EmitAll uploads the stopped, long-stopped and (when present) volume
// reports. Every upload is attempted; the first error is returned along
// with the uploads that succeeded.
func (e *Emitter) EmitAll(ctx context.Context, ts time.Time, res *collector.Result, includeVolumes bool) ([]Upload, error) {
	type job struct {
		name   string
		rows   int
		encode func() ([]byte, error)
	}
	jobs := []job{
		{StoppedInstancesReport, len(res.Instances), func() ([]byte, error) { return EncodeInstances(res.Instances) }},
		{LongStoppedInstancesReport, len(res.LongStopped), func() ([]byte, error) { return EncodeInstances(res.LongStopped) }},
	}
	if includeVolumes {
		jobs = append(jobs, job{InstanceVolumesReport, len(res.Volumes), func() ([]byte, error) { return EncodeVolumes(res.Volumes) }})
	}

	var uploads []Upload
	var firstErr error
	for _, j := range jobs {
		body, err := j.encode()
		if err == nil {
			var key string
			key, err = e.Put(ctx, j.name, ts, body)
			if err == nil {
				uploads = append(uploads, Upload{Report: j.name, Bucket: e.bucket, Key: key, Rows: j.rows})
				continue
			}
		}
		e.logger.Error("Report upload failed", "report", j.name, "error", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("emit %s: %w", j.name, err)
		}
	}
	return uploads, firstErr
}

// WithRetry wraps an S3 operation with retry logic for transient errors
func (e *Emitter) WithRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !isRetryableError(err) {
			return err
		}

		lastErr = err

		// Don't sleep on the last attempt
		if attempt < e.maxRetries-1 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * e.baseDelay
			e.logger.Debug("Retrying S3 operation", "attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

var retryableCodes = []string{
	"RequestLimitExceeded",
	"ServiceUnavailable",
	"SlowDown",
	"RequestTimeout",
	"TooManyRequests",
	"Throttling",
	"ThrottlingException",
	"InternalError",
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		for _, code := range retryableCodes {
			if apiErr.ErrorCode() == code {
				return true
			}
		}
		return false
	}

	errStr := err.Error()
	for _, retryable := range append(retryableCodes, "503", "429") {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}
