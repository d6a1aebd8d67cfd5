// Package archive stores submitted images in S3-compatible object storage so
// they can later be labelled and used for retraining.
package archive

import (
	"bytes"
	"context"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/example/bakeready/internal/prediction"
)

// KeyPrefix is prepended to every archived object key.
const KeyPrefix = "attempts/"

// Config describes the bucket images are archived to.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
}

// ObjectPutter is the subset of the S3 client used by the archive.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive uploads images under attempts/<attempt id><ext>.
type S3Archive struct {
	client ObjectPutter
	bucket string
	logger *zap.Logger
}

// NewS3Archive builds an archive from static credentials. A custom endpoint
// (MinIO and friends) switches the client to path-style addressing.
func NewS3Archive(ctx context.Context, cfg Config, logger *zap.Logger) (*S3Archive, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	archive := NewArchive(client, cfg.BucketName, logger)

	if err := archive.ensureBucketExists(ctx, client, cfg.Region); err != nil {
		archive.logger.Warn("failed to ensure bucket exists", zap.Error(err))
	}

	return archive, nil
}

// NewArchive wraps an existing client.
func NewArchive(client ObjectPutter, bucket string, logger *zap.Logger) *S3Archive {
	return &S3Archive{
		client: client,
		bucket: bucket,
		logger: logger.Named("archive"),
	}
}

func (a *S3Archive) ensureBucketExists(ctx context.Context, client *s3.Client, region string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err == nil {
		return nil
	}

	a.logger.Info("creating bucket", zap.String("bucket", a.bucket))
	input := &s3.CreateBucketInput{Bucket: aws.String(a.bucket)}
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	_, err := client.CreateBucket(ctx, input)
	return err
}

// Store uploads img for the given attempt. The original name is
// percent-encoded because S3 user metadata must be ASCII.
func (a *S3Archive) Store(ctx context.Context, attemptID string, img prediction.Image) error {
	key := ObjectKey(attemptID, img)
	contentType := img.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(img.Data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"attempt-id":    attemptID,
			"original-name": url.QueryEscape(img.Name),
		},
	})
	if err != nil {
		return err
	}

	a.logger.Debug("image archived",
		zap.String("attempt_id", attemptID),
		zap.String("key", key),
		zap.Int("size", len(img.Data)))
	return nil
}

// ObjectKey derives the object key from the attempt and the image's file
// extension, falling back to one derived from its MIME type.
func ObjectKey(attemptID string, img prediction.Image) string {
	ext := strings.ToLower(path.Ext(img.Name))
	if ext == "" {
		if exts, err := mime.ExtensionsByType(img.MIMEType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return KeyPrefix + attemptID + ext
}
