// Package fetch opens remote resources as byte streams for download caches.
//
// Supported schemes are http, https (with retries), s3 and file.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrUnsupportedScheme indicates a URI scheme no source handles.
	ErrUnsupportedScheme = errors.New("fetch: unsupported scheme")

	// ErrStatus indicates the server answered with a non-200 status.
	ErrStatus = errors.New("fetch: unexpected status")
)

// Source opens the resource at uri for reading.
type Source interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// S3API is the subset of the S3 client used for downloads.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type options struct {
	retryMax int
	timeout  time.Duration
	region   string
	profile  string
	s3       S3API
	logger   log.Interface
}

// Option customizes a [Fetcher].
type Option func(*options)

// WithRetryMax sets how many times failed HTTP requests are retried.
func WithRetryMax(n int) Option {
	return func(o *options) { o.retryMax = n }
}

// WithTimeout bounds each HTTP attempt. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRegion sets the AWS region for s3 URIs. Defaults to the env/profile chain.
func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

// WithProfile sets the AWS shared config profile for s3 URIs.
func WithProfile(profile string) Option {
	return func(o *options) { o.profile = profile }
}

// WithS3Client injects the client used for s3 URIs instead of loading one
// from the environment.
func WithS3Client(c S3API) Option {
	return func(o *options) { o.s3 = c }
}

// WithLogger routes retry diagnostics to l.
func WithLogger(l log.Interface) Option {
	return func(o *options) { o.logger = l }
}

// Fetcher is the default [Source].
type Fetcher struct {
	opts options
	http *retryablehttp.Client

	// s3 is built on first use. Failed loads are not remembered, so a
	// download cancelled while loading credentials does not poison later ones.
	s3Mu       sync.Mutex
	s3         S3API
	loadConfig func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error)
}

var _ Source = (*Fetcher)(nil)

// New returns a Fetcher configured by opts.
func New(opts ...Option) *Fetcher {
	o := options{retryMax: 3, logger: log.Log}
	for _, opt := range opts {
		opt(&o)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = o.retryMax
	client.RetryWaitMin = 50 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = o.timeout
	client.Logger = leveledLogger{o.logger}

	return &Fetcher{opts: o, http: client, loadConfig: config.LoadDefaultConfig}
}

// Open dispatches on the URI scheme.
func (f *Fetcher) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse %q: %w", uri, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.openHTTP(ctx, uri)
	case "s3":
		return f.openS3(ctx, u)
	case "file":
		r, openErr := os.Open(u.Path)
		if openErr != nil {
			return nil, fmt.Errorf("fetch: %w", openErr)
		}

		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func (f *Fetcher) openHTTP(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: get %s: %w", uri, err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("%w: %s returned %s", ErrStatus, uri, resp.Status)
	}

	return resp.Body, nil
}

func (f *Fetcher) openS3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	client, err := f.s3Client(ctx)
	if err != nil {
		return nil, err
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")

	if bucket == "" || key == "" {
		return nil, fmt.Errorf("fetch: s3 uri needs bucket and key: %s", u)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: get s3://%s/%s: %w", bucket, key, err)
	}

	return out.Body, nil
}

func (f *Fetcher) s3Client(ctx context.Context) (S3API, error) {
	f.s3Mu.Lock()
	defer f.s3Mu.Unlock()

	if f.s3 != nil {
		return f.s3, nil
	}

	if f.opts.s3 != nil {
		f.s3 = f.opts.s3

		return f.s3, nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if f.opts.profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(f.opts.profile))
	}

	if f.opts.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(f.opts.region))
	}

	cfg, err := f.loadConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("fetch: load aws config: %w", err)
	}

	f.s3 = s3.NewFromConfig(cfg)

	return f.s3, nil
}

// leveledLogger adapts apex/log to retryablehttp.LeveledLogger.
type leveledLogger struct {
	l log.Interface
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func (a leveledLogger) fields(keysAndValues []any) log.Interface {
	fields := log.Fields{}

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}

	return a.l.WithFields(fields)
}

func (a leveledLogger) Error(msg string, keysAndValues ...any) {
	a.fields(keysAndValues).Error(msg)
}

func (a leveledLogger) Info(msg string, keysAndValues ...any) {
	a.fields(keysAndValues).Debug(msg)
}

func (a leveledLogger) Debug(msg string, keysAndValues ...any) {
	a.fields(keysAndValues).Debug(msg)
}

func (a leveledLogger) Warn(msg string, keysAndValues ...any) {
	a.fields(keysAndValues).Warn(msg)
}
