// Package r2s3 mirrors completed audit files to an S3-compatible bucket
// (Cloudflare R2, MinIO, AWS S3).
package r2s3

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	// Endpoint is a host[:port] or a full http(s) URL. A URL scheme decides
	// Secure; a bare host uses TLS.
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// Client uploads local files under one bucket.
type Client struct {
	mc     *minio.Client
	bucket string
}

func New(cfg Config) (*Client, error) {
	host, secure, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("r2s3: bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("r2s3: access key id and secret are required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	mc, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("r2s3: %w", err)
	}
	return &Client{mc: mc, bucket: bucket}, nil
}

func parseEndpoint(raw string) (host string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("r2s3: endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimRight(raw, "/"), true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("r2s3: endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		secure = true
	case "http":
	default:
		return "", false, fmt.Errorf("r2s3: endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("r2s3: endpoint %q has no host", raw)
	}
	return u.Host, secure, nil
}

// PutFile uploads localPath as objectKey, replacing any existing object.
func (c *Client) PutFile(ctx context.Context, objectKey, localPath string) error {
	_, err := c.mc.FPutObject(ctx, c.bucket, objectKey, localPath, minio.PutObjectOptions{
		ContentType: "application/zstd",
	})
	return err
}
