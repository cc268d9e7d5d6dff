package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mailpilot/mailpilot/internal/config"
)

// objectGetter is the part of the S3 client used here
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Reader reads attachments from an S3-compatible bucket
type S3Reader struct {
	client objectGetter
	bucket string
}

// NewS3Reader creates an S3Reader from configuration
func NewS3Reader(cfg config.S3Config) (*S3Reader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("attachment: s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.Region = region
			if cfg.AccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
			}
		},
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.PathStyle
		})
	}

	return &S3Reader{
		client: s3.New(s3.Options{}, opts...),
		bucket: cfg.Bucket,
	}, nil
}

// ReadBytes downloads the object stored under storagePath
func (r *S3Reader) ReadBytes(ctx context.Context, storagePath string) ([]byte, error) {
	key := strings.TrimPrefix(storagePath, "/")
	if key == "" {
		return nil, ErrInvalidPath
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("attachment: failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("attachment: failed to read object %s: %w", key, err)
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, storagePath)
	}
	return data, nil
}

// New returns the reader selected by configuration
func New(cfg config.AttachmentsConfig) (Reader, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Reader(cfg.S3)
	case "local", "":
		return NewLocalReader(cfg.BaseDir), nil
	default:
		return nil, fmt.Errorf("attachment: unknown backend %q", cfg.Backend)
	}
}
