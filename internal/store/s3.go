package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"newsmesh/internal/model"
)

// ArchiverConfig configures the S3 archive sink.
type ArchiverConfig struct {
	Bucket       string
	Region       string
	Prefix       string
	UsePathStyle bool
}

// Archiver writes AggregatorOutput snapshots to S3, best effort. A nil
// Archiver is valid and archives nothing.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewArchiver builds the S3 client from the default AWS credential chain with
// optional overrides.
func NewArchiver(ctx context.Context, cfg ArchiverConfig, logger zerolog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	prefix := cfg.Prefix
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}

	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		log:    logger.With().Str("component", "archiver").Logger(),
	}, nil
}

// ArchiveOutput uploads a JSON snapshot of the run output. Failures are
// returned for logging but are never fatal to the pipeline.
func (a *Archiver) ArchiveOutput(ctx context.Context, output *model.AggregatorOutput) error {
	payload, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	key := fmt.Sprintf("%soutputs/%s.json", a.prefix, time.Now().UTC().Format("20060102T150405Z"))
	uctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = a.client.PutObject(uctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put output snapshot: %w", err)
	}
	a.log.Debug().Str("key", key).Int("clusters", len(output.Clusters)).Msg("archived output")
	return nil
}
