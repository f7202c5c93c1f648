package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/derickschaefer/meterstat/internal/model"
)

// S3Config holds connection settings for an S3-compatible service.
type S3Config struct {
	Bucket          string
	Region          string
	EndpointURL     string // e.g. https://storage.example.net; empty = AWS
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// S3 is a Store backed by one bucket of an S3-compatible service.
type S3 struct {
	client *minio.Client
	bucket string
}

// NewS3 builds a client for cfg. No request is made until first use.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	host, secure, err := splitEndpoint(cfg.EndpointURL)
	if err != nil {
		return nil, err
	}
	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// splitEndpoint turns an endpoint URL into the host[:port] minio expects
// plus the TLS flag. A bare host is treated as https.
func splitEndpoint(endpoint string) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "s3.amazonaws.com", true, nil
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("s3: invalid endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("s3: invalid endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme != "http", nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap("get object", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrap("get object", key, err)
	}
	return data, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]model.ObjectInfo, error) {
	var out []model.ObjectInfo
	for o := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if o.Err != nil {
			return nil, s.wrap("list objects", prefix, o.Err)
		}
		out = append(out, model.ObjectInfo{Key: o.Key, Size: o.Size, LastModified: o.LastModified.UTC()})
	}
	return out, nil
}

func (s *S3) Prefixes(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for o := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if o.Err != nil {
			return nil, s.wrap("list prefixes", prefix, o.Err)
		}
		if strings.HasSuffix(o.Key, "/") {
			out = append(out, o.Key)
		}
	}
	return out, nil
}

func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return s.wrap("put object", key, err)
	}
	return nil
}

func (s *S3) wrap(op, key string, err error) error {
	if r := minio.ToErrorResponse(err); r.Code == "NoSuchKey" {
		return fmt.Errorf("s3 %s %s: %w", op, key, ErrNotFound)
	}
	return fmt.Errorf("s3 %s %s: %w", op, key, err)
}
