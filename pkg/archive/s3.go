package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/importoor/pkg/config"
)

// s3Archiver implements Archiver for S3-compatible storage.
type s3Archiver struct {
	log    logrus.FieldLogger
	cfg    *config.S3ArchiveConfig
	client *s3.Client
}

// Ensure interface compliance.
var _ Archiver = (*s3Archiver)(nil)

// NewS3 creates an archiver writing objects to cfg.Bucket.
func NewS3(log logrus.FieldLogger, cfg *config.S3ArchiveConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive bucket is required")
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return &s3Archiver{
		log:    log.WithField("component", "s3-archive"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}, nil
}

// Archive uploads data to <prefix>/<fileName>.csv.
func (a *s3Archiver) Archive(ctx context.Context, fileName string, data []byte) error {
	name, err := objectName(fileName)
	if err != nil {
		return err
	}

	key := a.resolveKey(name)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("text/csv"),
	}

	if a.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(a.cfg.StorageClass)
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", a.cfg.Bucket, key, err)
	}

	a.log.WithFields(logrus.Fields{
		"bucket": a.cfg.Bucket,
		"key":    key,
	}).Debug("Archived file")

	return nil
}

// resolveKey builds the object key for an archived file.
func (a *s3Archiver) resolveKey(name string) string {
	prefix := strings.Trim(a.cfg.Prefix, "/")
	if prefix == "" {
		prefix = config.DefaultArchivePrefix
	}

	return prefix + "/" + name
}
