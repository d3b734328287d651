package aws

import (
	"bytes"
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter stores raw objects; the callback archive depends on this.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// Uploader is the part of manager.Uploader that S3Bucket uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Bucket writes objects into a single bucket through the S3 upload manager.
type S3Bucket struct {
	uploader Uploader
	bucket   string
}

// NewS3Bucket creates an uploader bound to bucket. Path-style addressing keeps LocalStack working.
func NewS3Bucket(cfg sdkaws.Config, bucket string) *S3Bucket {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return NewS3BucketWithUploader(manager.NewUploader(client), bucket)
}

func NewS3BucketWithUploader(uploader Uploader, bucket string) *S3Bucket {
	return &S3Bucket{uploader: uploader, bucket: bucket}
}

func (b *S3Bucket) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(b.bucket),
		Key:         sdkaws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", b.bucket, key, err)
	}
	return nil
}
