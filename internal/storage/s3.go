package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool // MinIO and most self-hosted endpoints need path-style URLs
}

// S3Store keeps blobs in an S3-compatible bucket. Logical paths are used as
// object keys unchanged.
type S3Store struct {
	bucket string
	cli    *s3.Client
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{AccessKeyID: opts.AccessKey, SecretAccessKey: opts.SecretKey},
		}))
	}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: opts.Endpoint, SigningRegion: opts.Region}, nil
			})))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
		// Manager owns the retry policy
		o.RetryMaxAttempts = 1
	})
	return &S3Store{bucket: opts.Bucket, cli: cli}, nil
}

func (s *S3Store) Put(ctx context.Context, p string, r io.Reader) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	_, err = manager.NewUploader(s.cli).Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	key, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	resp, err := s.cli.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, &TransientError{Op: "get", Err: err}
	}
	return resp.Body, nil
}

func (s *S3Store) Exists(ctx context.Context, p string) (bool, error) {
	key, err := cleanPath(p)
	if err != nil {
		return false, err
	}
	_, err = s.cli.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, &TransientError{Op: "exists", Err: err}
	}
	return true, nil
}

// Delete relies on S3 DeleteObject succeeding for missing keys.
func (s *S3Store) Delete(ctx context.Context, p string) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	_, err = s.cli.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Copy(ctx context.Context, srcPath, dstPath string) error {
	src, err := cleanPath(srcPath)
	if err != nil {
		return err
	}
	dst, err := cleanPath(dstPath)
	if err != nil {
		return err
	}
	_, err = s.cli.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + escapeKey(src)),
		Key:        aws.String(dst),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("%s: %w", src, ErrNotFound)
		}
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return nil
}

func (s *S3Store) LocalPath(string) (string, error) {
	return "", ErrUnsupported
}

// escapeKey URL-encodes every segment of key and keeps the separators.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
