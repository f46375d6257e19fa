package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

const (
	// Objects of unknown size or at least this large go through the
	// multipart uploader.
	multipartThreshold   = 100 * 1024 * 1024
	multipartPartSize    = 16 * 1024 * 1024
	multipartConcurrency = 5
)

// s3API is the subset of *s3.Client the backend calls.
type s3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type s3Uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Backend stores exports in an S3 or MinIO bucket.
type S3Backend struct {
	client   s3API
	uploader s3Uploader
	bucket   string
	logger   zerolog.Logger
}

// S3Config holds S3 backend configuration
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // MinIO, e.g. "localhost:9000"
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool // required for MinIO
}

// NewS3Backend creates a new S3/MinIO backend
func NewS3Backend(cfg *S3Config, logger zerolog.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	log := logger.With().Str("component", "s3-storage").Str("bucket", cfg.Bucket).Logger()

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	accessKey := cfg.AccessKey
	secretKey := cfg.SecretKey
	if accessKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if secretKey == "" {
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
		log.Info().Msg("Using static credentials for S3")
	} else {
		log.Info().Msg("Using default credential chain for S3")
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3Endpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.PathStyle
	})
	if cfg.Endpoint != "" {
		log.Info().Str("endpoint", s3Endpoint(cfg.Endpoint, cfg.UseSSL)).Msg("Using custom S3 endpoint")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		log.Warn().Err(err).Msg("Could not verify bucket exists (may need to create it)")
	} else {
		log.Info().Msg("Successfully connected to S3 bucket")
	}

	return newS3Backend(client, cfg.Bucket, log), nil
}

func newS3Backend(client s3API, bucket string, logger zerolog.Logger) *S3Backend {
	var up s3Uploader
	if c, ok := client.(manager.UploadAPIClient); ok {
		up = manager.NewUploader(c, func(u *manager.Uploader) {
			u.PartSize = multipartPartSize
			u.Concurrency = multipartConcurrency
		})
	}
	return &S3Backend{client: client, uploader: up, bucket: bucket, logger: logger}
}

// s3Endpoint adds a scheme to bare host:port endpoints.
func s3Endpoint(endpoint string, useSSL bool) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// Put uploads r to key. Unknown or large sizes are streamed in parts; the
// uploader aborts the multipart upload on failure so nothing is left behind.
func (b *S3Backend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	start := time.Now()
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType(key)),
	}

	multipart := size < 0 || size >= multipartThreshold
	var err error
	if multipart && b.uploader != nil {
		_, err = b.uploader.Upload(ctx, in)
	} else {
		if size >= 0 {
			in.ContentLength = aws.Int64(size)
		}
		_, err = b.client.PutObject(ctx, in)
	}
	if err != nil {
		b.logger.Error().Err(err).Str("key", key).Int64("size", size).Msg("Failed to write to S3")
		return fmt.Errorf("write %s to S3: %w", key, err)
	}

	b.logger.Debug().
		Str("key", key).
		Int64("size", size).
		Bool("multipart", multipart).
		Dur("duration", time.Since(start)).
		Msg("Wrote to S3")
	return nil
}

func (b *S3Backend) Get(ctx context.Context, key string, w io.Writer) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("read %s from S3: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("read %s from S3: %w", key, err)
	}
	return nil
}

func (b *S3Backend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := CheckKey(key); err != nil {
		return ObjectInfo{}, err
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return ObjectInfo{}, fmt.Errorf("stat %s in S3: %w", key, err)
	}
	return ObjectInfo{
		Key:        key,
		Size:       aws.ToInt64(out.ContentLength),
		ModifiedAt: aws.ToTime(out.LastModified).UTC(),
	}, nil
}

// List pages through ListObjectsV2. S3 prefixes are plain string prefixes,
// so a prefix without a trailing slash gets one to match LocalBackend.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	objs := []ObjectInfo{}
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %q in S3: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			objs = append(objs, ObjectInfo{
				Key:        *obj.Key,
				Size:       aws.ToInt64(obj.Size),
				ModifiedAt: aws.ToTime(obj.LastModified).UTC(),
			})
		}
	}
	return sortByKey(objs), nil
}

// Delete removes key. S3 reports success for missing keys, so existence is
// checked first.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.Stat(ctx, key); err != nil {
		return err
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s from S3: %w", key, err)
	}

	b.logger.Debug().Str("key", key).Msg("Deleted from S3")
	return nil
}

// isNotFoundError reports whether err means the object does not exist.
// HeadObject has no body, so MinIO and some S3 clones only surface the 404.
func isNotFoundError(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

func (b *S3Backend) Close() error {
	b.logger.Info().Msg("S3 backend closed")
	return nil
}

func (b *S3Backend) Type() string {
	return "s3"
}
