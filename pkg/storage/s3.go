package storage

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	dherr "github.com/deployhub/deployhub/pkg/errors"
)

// S3Config says how to reach an S3-compatible store. For MinIO, give
// its address as Endpoint; path-style addressing is always used.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	// DisableSSL is for talking to an in-cluster MinIO over plain HTTP.
	DisableSSL bool
}

type S3Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	logger   log.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

func NewS3Store(config S3Config, logger log.Logger) (*S3Store, error) {
	awsConfig := aws.NewConfig().
		WithS3ForcePathStyle(true).
		WithDisableSSL(config.DisableSSL)
	region := config.Region
	if region == "" {
		region = "us-east-1"
	}
	awsConfig = awsConfig.WithRegion(region)
	if config.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(config.Endpoint)
	}
	if config.AccessKey != "" {
		awsConfig = awsConfig.WithCredentials(credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""))
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	return &S3Store{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		logger:   logger,
		ensured:  map[string]bool{},
	}, nil
}

// EnsureBucket creates the bucket if it's not there already. Buckets
// are only checked once per process.
func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[bucket] {
		return nil
	}

	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if !isNotFound(err) {
			return errors.Wrapf(err, "checking bucket %s", bucket)
		}
		_, err = s.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
		if err != nil && !isCode(err, s3.ErrCodeBucketAlreadyOwnedByYou, s3.ErrCodeBucketAlreadyExists) {
			return errors.Wrapf(err, "creating bucket %s", bucket)
		}
		s.logger.Log("info", "created bucket", "bucket", bucket)
	}
	s.ensured[bucket] = true
	return nil
}

func (s *S3Store) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	if err := s.EnsureBucket(ctx, bucket); err != nil {
		return err
	}
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return errors.Wrapf(err, "uploading %s to bucket %s", key, bucket)
	}
	s.logger.Log("info", "uploaded object", "bucket", bucket, "key", key, "location", out.Location)
	return nil
}

func (s *S3Store) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, dherr.MissingError("object "+key, err)
		}
		return nil, errors.Wrapf(err, "downloading %s from bucket %s", key, bucket)
	}
	return out.Body, nil
}

func isNotFound(err error) bool {
	return isCode(err, s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound")
}

func isCode(err error, codes ...string) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	for _, code := range codes {
		if aerr.Code() == code {
			return true
		}
	}
	return false
}
