package export

import (
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/inferloop/sds/pkg/errors"
)

// S3Scheme prefixes s3 object uris
const S3Scheme = "s3://"

// S3Config holds the connection settings used for s3:// inputs and outputs
type S3Config struct {
	Region          string `json:"region" mapstructure:"region" yaml:"region"`
	Endpoint        string `json:"endpoint,omitempty" mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id,omitempty" mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"-" mapstructure:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string `json:"-" mapstructure:"session_token" yaml:"session_token"`
	ForcePathStyle  bool   `json:"force_path_style" mapstructure:"force_path_style" yaml:"force_path_style"`
	DisableSSL      bool   `json:"disable_ssl" mapstructure:"disable_ssl" yaml:"disable_ssl"`
	MaxRetries      int    `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	PartSize        int64  `json:"part_size" mapstructure:"part_size" yaml:"part_size"`
	StorageClass    string `json:"storage_class,omitempty" mapstructure:"storage_class" yaml:"storage_class"`
}

type uploader interface {
	UploadWithContext(aws.Context, *s3manager.UploadInput, ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

type downloader interface {
	DownloadWithContext(aws.Context, io.WriterAt, *s3.GetObjectInput, ...func(*s3manager.Downloader)) (int64, error)
}

var (
	_ uploader   = (*s3manager.Uploader)(nil)
	_ downloader = (*s3manager.Downloader)(nil)
)

// IsS3URI reports whether uri addresses an S3 object
func IsS3URI(uri string) bool {
	return strings.HasPrefix(uri, S3Scheme)
}

// ParseS3URI splits s3://bucket/key into its bucket and key
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !IsS3URI(uri) {
		return "", "", errors.NewIOError(errors.CodeInvalidDestination, "not an s3 uri", errors.ErrInvalidDestination).
			WithDetails(uri)
	}
	bucket, key, _ = strings.Cut(strings.TrimPrefix(uri, S3Scheme), "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", errors.NewIOError(errors.CodeInvalidDestination, "s3 uri must name a bucket and an object key", errors.ErrInvalidDestination).
			WithDetails(uri)
	}
	return bucket, key, nil
}

func newSession(config *S3Config) (*session.Session, error) {
	awsConfig := &aws.Config{}
	if config.Region != "" {
		awsConfig.Region = aws.String(config.Region)
	}
	if config.MaxRetries > 0 {
		awsConfig.MaxRetries = aws.Int(config.MaxRetries)
	}

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKeyID,
			config.SecretAccessKey,
			config.SessionToken,
		)
	}

	// S3-compatible services
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(config.ForcePathStyle)
	}
	if config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "failed to create AWS session", err)
	}
	return sess, nil
}
