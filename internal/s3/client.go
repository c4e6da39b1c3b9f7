// Package s3 connects to the object store that s3_put locations write to.
package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/guided-traffic/json-post-proxy/internal/config"
	"github.com/sirupsen/logrus"
)

// PartSize is the multipart chunk size used for large bodies
const PartSize = 8 * 1024 * 1024

// Uploader stores objects; it is satisfied by *manager.Uploader
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// NewClient creates an S3 client for the configured backend. Static
// credentials are used when set, the default AWS chain otherwise.
func NewClient(ctx context.Context, cfg *config.S3BackendConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client with custom endpoint if provided
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.TargetEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.TargetEndpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewUploader creates the uploader shared by all s3_put locations
func NewUploader(ctx context.Context, cfg *config.S3BackendConfig, logger *logrus.Entry) (*manager.Uploader, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"endpoint":       cfg.TargetEndpoint,
		"region":         cfg.Region,
		"use_path_style": cfg.UsePathStyle,
	}).Info("S3 backend configured")

	return manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = PartSize
	}), nil
}
