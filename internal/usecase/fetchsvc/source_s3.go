package fetchsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config — откуда брать учётные данные и куда ходить.
type S3Config struct {
	Profile   string
	Region    string
	Endpoint  string
	PathStyle bool
}

// S3Source качает объекты по URL вида s3://bucket/key.
type S3Source struct {
	cfg    S3Config
	once   sync.Once
	client *s3.Client
	err    error
}

func NewS3Source(cfg S3Config) *S3Source {
	return &S3Source{cfg: cfg}
}

// clientFor лениво поднимает клиент: без s3:// задач AWS-конфиг не нужен.
func (s *S3Source) clientFor(ctx context.Context) (*s3.Client, error) {
	s.once.Do(func() {
		opts := []func(*config.LoadOptions) error{
			config.WithRetryMode(aws.RetryModeAdaptive),
		}
		if s.cfg.Profile != "" {
			opts = append(opts, config.WithSharedConfigProfile(s.cfg.Profile))
		}
		if s.cfg.Region != "" {
			opts = append(opts, config.WithRegion(s.cfg.Region))
		}

		awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			s.err = fmt.Errorf("load AWS config: %w", err)
			return
		}
		s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if s.cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(s.cfg.Endpoint)
			}
			o.UsePathStyle = s.cfg.PathStyle
		})
	})
	return s.client, s.err
}

func (s *S3Source) Open(ctx context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	bucket, key, err := parseS3URL(u)
	if err != nil {
		return nil, 0, err
	}
	client, err := s.clientFor(ctx)
	if err != nil {
		return nil, 0, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, 0, fmt.Errorf("get s3://%s/%s: %s: %w", bucket, key, apiErr.ErrorCode(), err)
		}
		return nil, 0, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

func parseS3URL(u *url.URL) (bucket, key string, err error) {
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 url must look like s3://bucket/key, got %q", u.String())
	}
	return bucket, key, nil
}
