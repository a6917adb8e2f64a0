package artifact

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Config selects the object store. Endpoint targets S3-compatible
// services such as Ceph RGW.
type S3Config struct {
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// S3Fetcher reads s3://bucket/key objects.
type S3Fetcher struct {
	client s3iface.S3API
}

// NewS3Fetcher builds a client from cfg. Empty keys fall back to the
// SDK's default credential chain.
func NewS3Fetcher(cfg S3Config) (*S3Fetcher, error) {
	awsCfg := &aws.Config{
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle || cfg.Endpoint != ""),
	}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return NewS3FetcherWithClient(s3.New(sess)), nil
}

func NewS3FetcherWithClient(client s3iface.S3API) *S3Fetcher {
	return &S3Fetcher{client: client}
}

func (f *S3Fetcher) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	bucket, key, err := parseS3Path(path)
	if err != nil {
		return nil, 0, err
	}

	out, err := f.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// parseS3Path accepts s3://bucket/key or bucket/key.
func parseS3Path(path string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(path, "s3://")
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 path %q, expected s3://bucket/key", path)
	}
	return bucket, key, nil
}
