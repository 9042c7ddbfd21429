package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3BlobConfig configures the S3-backed Blob store, following the region
// and bucket conventions of the teacher's storage package.
type S3BlobConfig struct {
	Region string
	Bucket string
	// Endpoint overrides the default AWS endpoint resolution for
	// S3-compatible deployments (MinIO, Hetzner), matching the teacher's
	// LakeFS/MinIO/Hetzner path-style handling.
	Endpoint string
}

// S3Blob is the blob half of the persistent store (spec.md §6, large run
// reports and embedding-batch archives), using github.com/aws/aws-sdk-go-v2
// in the same style the teacher's storage.LakeFSListObjects/HetznerUpload*
// functions construct their client.
type S3Blob struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Blob builds an S3Blob from cfg, loading AWS credentials from the
// default provider chain (environment, shared config, or instance role).
func NewS3Blob(ctx context.Context, cfg S3BlobConfig) (*S3Blob, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Blob{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

func (b *S3Blob) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("store: upload %s to s3 bucket %s: %w", key, b.bucket, err)
	}
	return nil
}

func (b *S3Blob) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s from s3 bucket %s: %w", key, b.bucket, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("store: read %s body: %w", key, err)
	}
	return data, true, nil
}

func (b *S3Blob) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("store: delete %s from s3 bucket %s: %w", key, b.bucket, err)
	}
	return nil
}
