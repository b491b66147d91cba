package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Config struct {
	Bucket string
	Prefix string

	// Endpoint overrides the AWS endpoint, e.g. for MinIO. Path style
	// addressing is used whenever it is set.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type S3Store struct {
	client     *s3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
	cfg        S3Config
}

var _ Store = (*S3Store)(nil)

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	client, err := newS3Client(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
	}

	return &S3Store{
		client:     client,
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
		cfg:        cfg,
	}, nil
}

func loadS3Config(cfg S3Config, creds aws.CredentialsProvider) (aws.Config, error) {
	opts := []func(*aws_config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, aws_config.WithRegion(cfg.Region))
	}
	if creds != nil {
		opts = append(opts, aws_config.WithCredentialsProvider(creds))
	}
	return aws_config.LoadDefaultConfig(context.Background(), opts...)
}

func newS3Client(cfg S3Config) (*s3.Client, error) {
	var creds aws.CredentialsProvider
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	awsCfg, err := loadS3Config(cfg, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	// Public buckets are readable without credentials.
	if _, err := awsCfg.Credentials.Retrieve(context.Background()); err != nil {
		slog.Debug("no aws credentials found, using anonymous access", "error", err)
		awsCfg, err = loadS3Config(cfg, aws.AnonymousCredentials{})
		if err != nil {
			return nil, fmt.Errorf("failed to create aws config with anonymous credentials: %w", err)
		}
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (s *S3Store) String() string {
	return "s3://" + joinKey(s.cfg.Bucket, s.cfg.Prefix)
}

func (s *S3Store) Put(ctx context.Context, key string, data io.Reader) error {
	objectKey := joinKey(s.cfg.Prefix, key)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(objectKey),
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object to s3://%s/%s: %w", s.cfg.Bucket, objectKey, err)
	}
	slog.Debug("object uploaded", "bucket", s.cfg.Bucket, "key", objectKey)

	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey := joinKey(s.cfg.Prefix, key)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object size of s3://%s/%s: %w", s.cfg.Bucket, objectKey, err)
	}

	buffer := manager.NewWriteAtBuffer(make([]byte, aws.ToInt64(head.ContentLength)))
	_, err = s.downloader.Download(ctx, buffer, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download object s3://%s/%s: %w", s.cfg.Bucket, objectKey, err)
	}
	slog.Debug("object downloaded", "bucket", s.cfg.Bucket, "key", objectKey)

	return io.NopCloser(bytes.NewReader(buffer.Bytes())), nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := joinKey(s.cfg.Prefix, prefix)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(full),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in bucket %s with prefix %s: %w", s.cfg.Bucket, full, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.cfg.Prefix != "" {
				key = strings.TrimPrefix(key, s.cfg.Prefix+"/")
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}
