package transport

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	cfg "github.com/tomeflow/tomeflow/internal/config"
	"github.com/tomeflow/tomeflow/internal/core"
)

// ObjectTransport resolves opaque file-id locators as keys in one object
// storage bucket.
type ObjectTransport struct {
	client  *s3.Client
	bucket  string
	timeout time.Duration
}

func NewObjectTransport(ctx context.Context, cfg *cfg.Config) (*ObjectTransport, error) {
	if cfg.AwsAccessKey == "" || cfg.AwsSecretKey == "" {
		return nil, fmt.Errorf("AWS credentials not set")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("S3 bucket name not set")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.AwsRegion),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &ObjectTransport{
		client:  s3.NewFromConfig(awsCfg),
		bucket:  cfg.BucketName,
		timeout: cfg.FetchTimeout,
	}, nil
}

// Validate checks object existence and metadata without fetching the body.
func (t *ObjectTransport) Validate(ctx context.Context, locator string) core.Validation {
	headCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	head, err := t.client.HeadObject(headCtx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		return core.Validation{
			Valid: false,
			Err:   core.Faultf(core.FailValidation, "head object %s: %v", locator, err),
		}
	}
	v := core.Validation{Valid: true, ContentType: aws.ToString(head.ContentType)}
	if head.ContentLength != nil {
		v.ContentLength = *head.ContentLength
	}
	return v
}

func (t *ObjectTransport) Download(ctx context.Context, locator string) (*core.Payload, error) {
	getCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	buf := manager.NewWriteAtBuffer(nil)
	downloader := manager.NewDownloader(t.client)
	if _, err := downloader.Download(getCtx, buf, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(locator),
	}); err != nil {
		return nil, core.Faultf(core.FailTransport, "s3 download %s: %v", locator, err)
	}

	head, err := t.client.HeadObject(getCtx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		return nil, core.Faultf(core.FailTransport, "head object %s: %v", locator, err)
	}

	return &core.Payload{
		Bytes:       buf.Bytes(),
		ContentType: aws.ToString(head.ContentType),
		FileName:    path.Base(locator),
	}, nil
}

var _ core.Transport = (*ObjectTransport)(nil)
