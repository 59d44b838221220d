// Package webhook delivers replicated messages to a channel's webhook URL.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chanmirror/internal/domain"
	"chanmirror/internal/transport"

	"github.com/bwmarrin/discordgo"
)

const (
	// MaxFiles is the platform limit of files per webhook message.
	MaxFiles = 10
	// DefaultTimeout bounds one delivery including retries.
	DefaultTimeout = 60 * time.Second
)

// Payload is one webhook message.
type Payload struct {
	Content   string
	Username  string
	AvatarURL string
	Files     []*domain.DownloadedAsset
}

// Config configures a Poster.
type Config struct {
	Client  *http.Client
	Logger  *slog.Logger
	Timeout time.Duration
	Retry   transport.Policy
}

// Poster sends multipart webhook requests.
type Poster struct {
	client  *http.Client
	logger  *slog.Logger
	timeout time.Duration
	retry   transport.Policy
}

func New(cfg Config) *Poster {
	if cfg.Client == nil {
		cfg.Client = transport.SharedHTTPClient(DefaultTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	// A repeated POST after a 5xx can post the message twice.
	cfg.Retry.RateLimitOnly = true
	return &Poster{client: cfg.Client, logger: cfg.Logger, timeout: cfg.Timeout, retry: cfg.Retry}
}

// Post sends payload to url as a single multipart request. Content is sent
// only when non-blank; files beyond MaxFiles are dropped.
func (p *Poster) Post(ctx context.Context, url string, payload Payload) error {
	params := discordgo.WebhookParams{
		Username:  payload.Username,
		AvatarURL: payload.AvatarURL,
	}
	if strings.TrimSpace(payload.Content) != "" {
		params.Content = payload.Content
	}

	files := payload.Files
	if len(files) > MaxFiles {
		p.logger.Warn("dropping files over webhook limit", "count", len(files), "limit", MaxFiles)
		files = files[:MaxFiles]
	}
	parts := make([]*discordgo.File, 0, len(files))
	for _, a := range files {
		parts = append(parts, &discordgo.File{
			Name:        a.Name(),
			ContentType: a.ContentType,
			Reader:      bytes.NewReader(a.Data),
		})
	}

	if params.Content == "" && len(parts) == 0 {
		return errors.New("webhook payload is empty")
	}

	contentType, body, err := discordgo.MultipartBodyWithJSON(params, parts)
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := transport.DoWithRetry(ctx, p.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, p.retry, p.logger)
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) {
			return &domain.DeliveryError{StatusCode: se.StatusCode, Err: err}
		}
		return &domain.DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &domain.DeliveryError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("webhook rejected: %s", strings.TrimSpace(string(msg))),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
