package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/booksapi/release-pipeline/internal/awsutil"
	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// S3API is the subset of the S3 client used for artifacts.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 stores artifacts as objects under a bucket prefix. Locations are
// s3://bucket/key URLs.
type S3 struct {
	api    S3API
	bucket string
	prefix string
}

var _ ports.ArtifactStore = (*S3)(nil)

// NewS3 wraps an S3 client.
func NewS3(api S3API, bucket, prefix string) *S3 {
	return &S3{api: api, bucket: bucket, prefix: prefix}
}

// NewS3FromConfig creates a store from an AWS config.
func NewS3FromConfig(cfg aws.Config, bucket, prefix string) *S3 {
	return NewS3(s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Local endpoints (localstack) only serve path-style requests.
		o.UsePathStyle = cfg.BaseEndpoint != nil
	}), bucket, prefix)
}

func (s *S3) Put(ctx context.Context, name, key string, body io.Reader) (domain.ArtifactRef, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("read artifact %s: %w", name, err)
	}
	objectKey := joinKey(s.prefix, key)
	sum := digest(data)

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{"digest": sum, "artifact": name},
	})
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("upload %s to s3://%s/%s: %w", name, s.bucket, objectKey, err)
	}

	return domain.ArtifactRef{
		Name:     name,
		Location: fmt.Sprintf("s3://%s/%s", s.bucket, objectKey),
		Digest:   sum,
	}, nil
}

func (s *S3) Open(ctx context.Context, ref domain.ArtifactRef) (io.ReadCloser, error) {
	bucket, key, err := parseS3Location(ref.Location)
	if err != nil {
		return nil, err
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if awsutil.HasErrorCode(err, "NoSuchKey", "NotFound") {
			return nil, fmt.Errorf("artifact %s: %w", ref.Location, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", ref.Location, err)
	}
	return out.Body, nil
}

func parseS3Location(loc string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(loc, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: not an s3 location: %q", domain.ErrInvalidArgument, loc)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: malformed s3 location: %q", domain.ErrInvalidArgument, loc)
	}
	return bucket, key, nil
}
