package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/picklr-io/dockstate/internal/ir"
)

const (
	defaultS3Key    = "dockstate/state.json"
	defaultS3Region = "us-east-1"
)

// s3API is the part of the S3 client the backend uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Backend stores the JSON state document as one S3 object.
type s3Backend struct {
	bucket  string
	key     string
	region  string
	profile string

	client s3API
}

func newS3Backend(ctx context.Context, cfg *Config) (*s3Backend, error) {
	b, err := s3BackendFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(b.region))
	if b.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(b.profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: unable to load AWS config: %w", err)
	}
	b.client = s3.NewFromConfig(awsCfg)
	return b, nil
}

func s3BackendFromConfig(cfg *Config) (*s3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}
	return &s3Backend{
		bucket:  cfg.Bucket,
		key:     pathOr(cfg.Key, defaultS3Key),
		region:  pathOr(cfg.Region, defaultS3Region),
		profile: cfg.Profile,
	}, nil
}

func (b *s3Backend) Read(ctx context.Context) (*ir.State, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		// If the object doesn't exist, return empty state
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "NoSuchKey" {
			return ir.NewState(), nil
		}
		return nil, fmt.Errorf("failed to read state from s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	st, err := DecodeState(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote state: %w", err)
	}
	return st, nil
}

func (b *s3Backend) Write(ctx context.Context, st *ir.State) error {
	content, err := EncodeState(st)
	if err != nil {
		return err
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return nil
}

func (b *s3Backend) Close() error { return nil }
