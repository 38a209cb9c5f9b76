// Package s3blob archives ledger history to S3-compatible object storage
// (AWS S3, MinIO, Cloudflare R2, iDrive e2) using AWS SDK v2.
package s3blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	ledgerconfig "github.com/alanyoungcy/spotledger/internal/config"
)

// ClientConfig holds the configuration for connecting to an object store.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible providers.
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// UseSSL picks the scheme when Endpoint has none.
	UseSSL bool
	// ForcePathStyle puts the bucket in the path instead of the host.
	ForcePathStyle bool
}

// ClientConfigFrom maps the [s3] config section onto a ClientConfig.
func ClientConfigFrom(cfg ledgerconfig.S3Config) ClientConfig {
	return ClientConfig{
		Endpoint:       cfg.Endpoint,
		Region:         cfg.Region,
		Bucket:         cfg.Bucket,
		AccessKey:      cfg.AccessKey,
		SecretKey:      cfg.SecretKey,
		UseSSL:         cfg.UseSSL,
		ForcePathStyle: cfg.ForcePathStyle,
	}
}

// Client wraps the AWS S3 SDK client and the default bucket name.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New creates an S3 client with static credentials and, when set, a custom
// endpoint and path-style addressing.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint, cfg.UseSSL)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
	}, nil
}

// Health performs a HeadBucket call to verify connectivity and permissions.
// Returns nil if the bucket is accessible.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: health check failed for bucket %s: %w", c.bucket, err)
	}
	return nil
}

// S3 returns the underlying AWS SDK S3 client.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the configured default bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// normaliseEndpoint prepends a scheme when endpoint has none.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	// url.Parse would read "minio:9000" as scheme "minio".
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
