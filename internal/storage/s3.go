// Package storage keeps receipt images in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
)

// PresignExpiry is the lifetime of signed URLs handed out when the bucket
// has no public base URL. SigV4 caps it at seven days.
const PresignExpiry = 7 * 24 * time.Hour

// ErrUnsupportedType is returned for uploads that are not an allowed image type.
var ErrUnsupportedType = errors.New("unsupported image type")

// AllowImage lists the content types accepted for receipt images.
var AllowImage = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/heif": ".heif",
}

// Options configures an S3Store.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// PublicBaseURL, when set, is joined with object keys to form durable
	// public URLs. Otherwise signed URLs are returned.
	PublicBaseURL string
	HTTPClient    *http.Client
	// MaxAttempts overrides the SDK retry budget when positive.
	MaxAttempts int
}

// Object identifies a stored file.
type Object struct {
	Key string
	URL string
}

// S3Store stores files in a single bucket namespaced by user.
type S3Store struct {
	client        *s3.Client
	presigner     *s3.PresignClient
	bucket        string
	publicBaseURL string
}

// NewS3Store builds a store from Options.
func NewS3Store(ctx context.Context, opts Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(opts.HTTPClient))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		if opts.MaxAttempts > 0 {
			o.RetryMaxAttempts = opts.MaxAttempts
		}
	})

	return &S3Store{
		client:        client,
		presigner:     s3.NewPresignClient(client),
		bucket:        opts.Bucket,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
	}, nil
}

// ObjectKey returns the key a new receipt image for userID is stored under.
func ObjectKey(userID uuid.UUID, contentType string) (string, error) {
	ext, ok := AllowImage[normalizeContentType(contentType)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	name := fmt.Sprintf("%d-%s%s", time.Now().UTC().UnixMilli(), uuid.NewString(), ext)
	return path.Join("receipts", userID.String(), name), nil
}

// Put uploads an image for userID and returns its key and URL.
func (s *S3Store) Put(ctx context.Context, userID uuid.UUID, contentType string, data []byte) (*Object, error) {
	key, err := ObjectKey(userID, contentType)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(normalizeContentType(contentType)),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put object: %w", err)
	}

	url, err := s.URL(ctx, key)
	if err != nil {
		return nil, err
	}

	logger.Log.Debug().
		Str("user_hash", logger.HashUserID(userID.String())).
		Int("bytes", len(data)).
		Str("content_type", contentType).
		Msg("Stored receipt image")

	return &Object{Key: key, URL: url}, nil
}

// URL returns a durable reference to key.
func (s *S3Store) URL(ctx context.Context, key string) (string, error) {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign object url: %w", err)
	}
	return req.URL, nil
}

// URLHosts returns the hosts that URL hands out, for use as a fetch
// allowlist.
func (s *S3Store) URLHosts(ctx context.Context) ([]string, error) {
	ref, err := s.URL(ctx, "receipts/host-check")
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("object url has no host: %q", ref)
	}
	return []string{u.Host}, nil
}

// Delete removes an object. Missing objects are not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}
