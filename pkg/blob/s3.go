package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
)

// S3Store archives bundles in an S3 bucket under their content address.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint for MinIO or LocalStack
	Prefix   string // optional key prefix, e.g. "bundles/"
}

// NewS3Store creates an S3-backed bundle store using the default AWS
// credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blob: s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // MinIO and LocalStack need path-style keys
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) key(raw string) string { return s.prefix + raw + ".ext" }

// Put uploads data unless an object already exists at its address.
func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	addr := Addr(data)
	raw := addr[len(addrPrefix):]

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(raw)),
	})
	if err == nil {
		return addr, nil
	}
	var nf *types.NotFound
	if !errors.As(err, &nf) {
		return "", fmt.Errorf("blob: s3 head %s: %w", addr, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(raw)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("blob: s3 put %s: %w", addr, err)
	}
	return addr, nil
}

// Get downloads the bundle at addr and verifies it still hashes to
// addr.
func (s *S3Store) Get(ctx context.Context, addr string) ([]byte, error) {
	raw, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(raw)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("blob: s3 get %s: %w", addr, ErrNotFound)
		}
		return nil, fmt.Errorf("blob: s3 get %s: %w", addr, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blob: s3 read %s: %w", addr, err)
	}
	if canonical.HashBytes(data) != raw {
		return nil, fmt.Errorf("blob: s3 get %s: %w", addr, ErrCorrupted)
	}
	return data, nil
}

// Exists reports whether an object is stored at addr.
func (s *S3Store) Exists(ctx context.Context, addr string) (bool, error) {
	raw, err := ParseAddr(addr)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(raw)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("blob: s3 head %s: %w", addr, err)
	}
	return true, nil
}

// Delete removes the object at addr. S3 treats deleting a missing key
// as success.
func (s *S3Store) Delete(ctx context.Context, addr string) error {
	raw, err := ParseAddr(addr)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(raw)),
	})
	if err != nil {
		return fmt.Errorf("blob: s3 delete %s: %w", addr, err)
	}
	return nil
}
