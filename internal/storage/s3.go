package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/except-pass/telltale/internal/util"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/truthtable"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectClient is the part of the S3 client reports need.
type ObjectClient interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ReportStore keeps rendered truth-table reports in a bucket.
type ReportStore struct {
	client  ObjectClient
	bucket  string
	backoff util.Backoff
	tries   int
}

// NewS3Client builds a client from the AWS_* environment. It returns nil
// when no bucket is configured.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	if util.GetEnv("AWS_BUCKET") == "" {
		return nil, nil
	}
	region := util.GetEnvString("AWS_REGION", "us-east-1")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = endpoint != ""
	})
	return client, nil
}

// NewReportStore stores reports in bucket. Uploads are retried with the
// default backoff.
func NewReportStore(client ObjectClient, bucket string) *ReportStore {
	return &ReportStore{
		client:  client,
		bucket:  bucket,
		backoff: util.DefaultBackoff,
		tries:   3,
	}
}

// ReportKey is the object key of a run's report.
func ReportKey(graphID, runID string, format truthtable.Format) string {
	return fmt.Sprintf("reports/%s/%s.%s", graphID, runID, extension(format))
}

func extension(format truthtable.Format) string {
	switch format {
	case truthtable.FormatCSV:
		return "csv"
	case truthtable.FormatHTML:
		return "html"
	}
	return "txt"
}

// PutReport uploads a rendered report and returns its key.
func (r *ReportStore) PutReport(ctx context.Context, graphID, runID string, format truthtable.Format, report []byte) (string, error) {
	key := ReportKey(graphID, runID, format)
	err := util.RetryErrWithContext(ctx, r.tries, r.backoff, func(ctx context.Context) error {
		_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(r.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(report),
			ContentType: aws.String(format.ContentType()),
			Metadata: map[string]string{
				"graph-id": graphID,
				"run-id":   runID,
			},
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report to S3: %w", err)
	}

	logger.Debug("[Storage] Uploaded report", "key", key, "bytes", len(report))
	return key, nil
}

// GetReport downloads a report by key.
func (r *ReportStore) GetReport(ctx context.Context, key string) ([]byte, error) {
	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get report from S3: %w", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read report contents: %w", err)
	}
	return buf.Bytes(), nil
}
