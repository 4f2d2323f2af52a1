package publish

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Config represents S3 configuration
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string // Optional for custom endpoints like MinIO
	Bucket          string
	Prefix          string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads every file of a job directory to <bucket>/<prefix>/<job>/<file>.
type S3Publisher struct {
	client putObjectAPI
	bucket string
	prefix string
}

func NewS3Publisher(ctx context.Context, cfg S3Config) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("region cannot be empty")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Publisher(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Publisher(client putObjectAPI, bucket, prefix string) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, prefix: prefix}
}

func (p *S3Publisher) Publish(ctx context.Context, jobID, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read job dir %s: %w", jobID, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := p.putFile(ctx, path.Join(p.prefix, jobID, e.Name()), filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	log.Debug().Str("job", jobID).Str("bucket", p.bucket).Int("files", len(entries)).Msg("Published job artifacts")
	return nil
}

func (p *S3Publisher) putFile(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := p.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", p.bucket, key, err)
	}
	return nil
}
