// Package archive keeps copies of source images so reviewers can still see
// them after the signed CDN links they were discovered under have expired.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultPrefix is the key prefix used when Options.Prefix is empty.
const DefaultPrefix = "sources/"

// PutObjectAPI is the subset of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures an S3 archiver.
type Options struct {
	Bucket  string
	Region  string
	Profile string
	Prefix  string
}

// S3 stores source images in a bucket, keyed by content hash.
type S3 struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3 loads the default AWS configuration and returns an archiver for
// opts.Bucket.
func NewS3(ctx context.Context, opts Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, eris.New("archive: bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "archive: load aws config")
	}

	return NewS3WithClient(s3.NewFromConfig(cfg), opts), nil
}

// NewS3WithClient returns an archiver using client.
func NewS3WithClient(client PutObjectAPI, opts Options) *S3 {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{client: client, bucket: opts.Bucket, prefix: prefix}
}

// Archive uploads data and returns its s3:// location. Identical images
// map to the same key, so re-archiving is idempotent.
func (a *S3) Archive(ctx context.Context, sourceURL string, data []byte, contentType string) (string, error) {
	key := a.Key(data, contentType)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"source-url": sourceURL},
	})
	if err != nil {
		return "", eris.Wrapf(err, "archive: put %s", key)
	}

	zap.L().Debug("archive: stored source image",
		zap.String("source", sourceURL),
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)
	return "s3://" + a.bucket + "/" + key, nil
}

// Key returns the object key for data.
func (a *S3) Key(data []byte, contentType string) string {
	sum := sha256.Sum256(data)
	return a.prefix + hex.EncodeToString(sum[:16]) + extension(contentType)
}

func extension(contentType string) string {
	mt, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	switch strings.TrimSpace(mt) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
