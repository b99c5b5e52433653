package bundle

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3Fetcher copies archives staged in object storage to local disk.
type S3Fetcher struct {
	client *s3.Client
}

// S3Config selects the region and optional S3-compatible endpoint.
type S3Config struct {
	Region    string
	Endpoint  string
	PathStyle bool
}

// NewS3Fetcher builds a fetcher from the ambient AWS credential chain.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Fetcher{client: client}, nil
}

// IsS3URI reports whether uri names an s3:// object.
func IsS3URI(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", errors.Wrapf(err, "parse %s", uri)
	}
	if u.Scheme != "s3" || u.Host == "" || strings.TrimPrefix(u.Path, "/") == "" {
		return "", "", errors.Errorf("not an s3 object uri: %s", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Fetch downloads uri into destDir and returns the local path.
func (s *S3Fetcher) Fetch(ctx context.Context, uri, destDir string) (string, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return "", err
	}
	if err := ensureDir(destDir); err != nil {
		return "", errors.Wrapf(err, "create %s", destDir)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return "", errors.Wrapf(err, "get %s", uri)
	}
	defer out.Body.Close()

	dest := filepath.Join(destDir, path.Base(key))
	if err := writeBody(out.Body, dest); err != nil {
		return "", errors.Wrapf(err, "write %s", dest)
	}
	return dest, nil
}
