// Package media downloads remote media into memory under a byte ceiling.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"time"

	"chanmirror/internal/domain"
	"chanmirror/internal/transport"

	"github.com/dustin/go-humanize"
)

const (
	// DefaultMaxBytes is the default per-file ceiling (8 MiB).
	DefaultMaxBytes int64 = 8 * 1024 * 1024
	// DefaultTimeout bounds a single download including retries.
	DefaultTimeout = 45 * time.Second

	defaultUserAgent = "Mozilla/5.0 (compatible; chanmirror/1.0)"
)

// Config configures a Fetcher.
type Config struct {
	Client    *http.Client
	Logger    *slog.Logger
	UserAgent string
	MaxBytes  int64
	Timeout   time.Duration
	Retry     transport.Policy
}

// Options override the fetcher defaults for one download.
type Options struct {
	MaxBytes   int64
	Timeout    time.Duration
	DefaultExt string // used when the content type maps to no known extension
	Filename   string
	Hint       string // declared content type, used when the response has none
}

// Fetcher downloads media over HTTP. It never touches disk.
type Fetcher struct {
	client    *http.Client
	logger    *slog.Logger
	userAgent string
	maxBytes  int64
	timeout   time.Duration
	retry     transport.Policy
}

// New creates a Fetcher, filling unset fields with defaults.
func New(cfg Config) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = transport.SharedHTTPClient(DefaultTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Fetcher{
		client:    cfg.Client,
		logger:    cfg.Logger,
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		timeout:   cfg.Timeout,
		retry:     cfg.Retry,
	}
}

// Fetch downloads url. A body of exactly MaxBytes is accepted; one byte more
// fails with a DownloadError wrapping domain.ErrTooLarge.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts Options) (*domain.DownloadedAsset, error) {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = f.maxBytes
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = f.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := transport.DoWithRetry(ctx, f.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set("Accept", "*/*")
		return req, nil
	}, f.retry, f.logger)
	if err != nil {
		return nil, classify(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.DownloadError{
			URL:        url,
			Reason:     domain.ReasonStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if resp.ContentLength > maxBytes {
		return nil, tooLarge(url, resp.ContentLength, maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, classify(url, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, tooLarge(url, int64(len(data)), maxBytes)
	}

	contentType := resolveContentType(resp.Header.Get("Content-Type"), opts.Hint, data)
	ext := ExtensionFor(contentType, opts.DefaultExt)

	f.logger.Debug("media downloaded",
		"url", url,
		"size", humanize.IBytes(uint64(len(data))),
		"content_type", contentType,
		"ext", ext,
	)

	return &domain.DownloadedAsset{
		Data:        data,
		ContentType: contentType,
		Ext:         ext,
		Filename:    opts.Filename,
	}, nil
}

func tooLarge(url string, size, limit int64) error {
	return &domain.DownloadError{
		URL:    url,
		Reason: domain.ReasonTooLarge,
		Err: fmt.Errorf("%w: %s > %s", domain.ErrTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit))),
	}
}

func classify(url string, err error) error {
	var se *transport.StatusError
	if errors.As(err, &se) {
		return &domain.DownloadError{URL: url, Reason: domain.ReasonStatus, StatusCode: se.StatusCode, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.DownloadError{URL: url, Reason: domain.ReasonTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &domain.DownloadError{URL: url, Reason: domain.ReasonTimeout, Err: err}
	}
	return &domain.DownloadError{URL: url, Reason: domain.ReasonNetwork, Err: err}
}

// resolveContentType prefers the response header, then the declared hint,
// then content sniffing.
func resolveContentType(header, hint string, data []byte) string {
	if ct := baseType(header); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if ct := baseType(hint); ct != "" {
		return ct
	}
	return baseType(http.DetectContentType(data))
}

func baseType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return mt
}
