package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3API is the subset of *s3.Client used by S3Store
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures the S3 client of an S3Store
type S3Options struct {
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client. Static credentials are used when given,
// otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

const maxPutAttempts = 3

// S3Store is a ContentStore backed by an S3 bucket. Locations are object keys.
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Store creates a new S3Store instance
func NewS3Store(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Publish uploads the staged file with If-None-Match: *, so an object is
// created once and never overwritten. S3 makes an object visible only after
// the whole upload succeeds.
func (s *S3Store) Publish(ctx context.Context, staged *StagedFile, hash string, mode PublishMode) (string, error) {
	defer staged.Release()

	if _, err := ParseDigest(hash); err != nil {
		return "", err
	}
	_, size, err := staged.Sum()
	if err != nil {
		return "", err
	}

	body, err := staged.Reader()
	if err != nil {
		return "", fmt.Errorf("failed to open staged file: %w", err)
	}
	defer body.Close()

	key := path.Join(s.prefix, hash[:2], hash)
	for attempt := 1; ; attempt++ {
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(size),
			IfNoneMatch:   aws.String("*"),
		})
		// a concurrent conditional write of the same key is still in flight
		if errorCode(err) == "ConditionalRequestConflict" && attempt < maxPutAttempts {
			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return "", fmt.Errorf("failed to rewind staged file: %w", err)
			}
			continue
		}
		break
	}
	if err != nil {
		if errorCode(err) != "PreconditionFailed" {
			return "", fmt.Errorf("failed to put object: %w", err)
		}
		if mode == PublishMustNotExist {
			return "", fmt.Errorf("%w: %s", ErrBlobExists, hash)
		}
	}

	return key, nil
}

// Open streams the object at location. The reader is not seekable.
func (s *S3Store) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, location)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return out.Body, nil
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	return errorCode(err) == "NotFound"
}
