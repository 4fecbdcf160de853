// Package s3 serves pak bytes from an S3-compatible object store using
// ranged GetObject calls.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/meigma/pak/cache"
)

// ErrShortRead is returned when the store returns fewer bytes than requested
// for a range that lies inside the object.
var ErrShortRead = errors.New("s3 source: short read")

// API is the subset of the S3 client used by Source.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ClientConfig holds S3 connection settings.
type ClientConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// NewClient builds an S3 client from cfg. Empty credentials fall back to
// the default AWS credential chain.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		creds := aws.Credentials{AccessKeyID: cfg.AccessKey, SecretAccessKey: cfg.SecretKey, Source: "pak"}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) { return creds, nil }),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// Source reads one object with ranged GetObject requests.
// It satisfies cache.ByteSource and cache.RangeReader.
type Source struct {
	client   API
	bucket   string
	key      string
	size     int64
	etag     string
	sourceID string
	pinETag  bool
	logger   *slog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithSourceID overrides the default source identifier used for caching.
func WithSourceID(id string) Option {
	return func(s *Source) {
		s.sourceID = id
	}
}

// WithIfMatch pins every range read to the ETag seen at open time.
func WithIfMatch() Option {
	return func(s *Source) {
		s.pinETag = true
	}
}

// WithLogger sets the logger for request events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource opens bucket/key, recording its size and ETag.
func NewSource(ctx context.Context, client API, bucket, key string, opts ...Option) (*Source, error) {
	if client == nil {
		return nil, errors.New("s3 source: nil client")
	}
	s := &Source{client: client, bucket: bucket, key: key}
	for _, opt := range opts {
		opt(s)
	}

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("head object %s/%s: %w", bucket, key, err)
	}
	if head.ContentLength == nil || *head.ContentLength < 0 {
		return nil, fmt.Errorf("head object %s/%s: missing content length", bucket, key)
	}
	s.size = *head.ContentLength
	s.etag = aws.ToString(head.ETag)

	if s.sourceID == "" {
		s.sourceID = s.defaultSourceID()
	}
	s.log().Debug("s3 source opened", "bucket", bucket, "key", key, "size", s.size)
	return s, nil
}

func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

func (s *Source) defaultSourceID() string {
	if s.etag != "" {
		return fmt.Sprintf("s3:%s/%s|etag:%s", s.bucket, s.key, s.etag)
	}
	return fmt.Sprintf("s3:%s/%s|size:%d", s.bucket, s.key, s.size)
}

// Size returns the object size.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID returns a stable identifier for the object version.
func (s *Source) SourceID() string {
	return s.sourceID
}

// ReadRange returns a reader for [off, off+length), clamped to the object.
func (s *Source) ReadRange(off, length int64) (io.ReadCloser, error) {
	if length < 0 {
		return nil, fmt.Errorf("read range length %d: negative length", length)
	}
	if off < 0 {
		return nil, fmt.Errorf("read range %d: negative offset", off)
	}
	if length == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if off >= s.size {
		return io.NopCloser(bytes.NewReader(nil)), io.EOF
	}
	length = min(length, s.size-off)
	return s.get(context.Background(), off, length)
}

// ReadAt reads len(p) bytes at off with a single ranged GetObject.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	expected := int(min(int64(len(p)), s.size-off))

	body, err := s.get(context.Background(), off, int64(expected))
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := io.ReadFull(body, p[:expected])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return n, fmt.Errorf("%w: got %d of %d bytes at %d", ErrShortRead, n, expected, off)
		}
		return n, err
	}
	if expected < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Source) get(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+length-1)),
	}
	if s.pinETag && s.etag != "" {
		in.IfMatch = aws.String(s.etag)
	}
	s.log().Debug("s3 range request", "bucket", s.bucket, "key", s.key, "offset", off, "length", length)
	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", s.bucket, s.key, err)
	}
	return &limitedBody{Reader: io.LimitReader(out.Body, length), body: out.Body}, nil
}

type limitedBody struct {
	io.Reader
	body io.ReadCloser
}

func (b *limitedBody) Close() error {
	return b.body.Close()
}

var (
	_ cache.ByteSource  = (*Source)(nil)
	_ cache.RangeReader = (*Source)(nil)
)
