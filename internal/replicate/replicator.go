// Package replicate re-posts one source message into its destination channel.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"chanmirror/internal/domain"
	"chanmirror/internal/media"
	"chanmirror/internal/pacing"
	"chanmirror/internal/telemetry"
	"chanmirror/internal/webhook"
	"chanmirror/internal/workqueue"

	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultMaxMedia         = 10
	DefaultMaxMessageLength = 2000
)

// Fetcher downloads a media URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts media.Options) (*domain.DownloadedAsset, error)
}

// EndpointPoster posts a multipart webhook message.
type EndpointPoster interface {
	Post(ctx context.Context, url string, payload webhook.Payload) error
}

// Outcome is the per-message result.
type Outcome int

const (
	Delivered Outcome = iota
	Skipped           // automation-authored
	Empty             // nothing left to send
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Skipped:
		return "skipped"
	case Empty:
		return "empty"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result describes what happened to one message.
type Result struct {
	Outcome      Outcome
	Media        int  // assets delivered
	HadVideo     bool // at least one asset resolved to mp4 or webm
	SkippedMedia int  // over the size ceiling or the per-message cap
	FailedMedia  int  // download failures
	Err          error
}

// Config configures a Replicator.
type Config struct {
	Queue              *workqueue.Queue[*domain.DownloadedAsset]
	Fetcher            Fetcher
	Poster             EndpointPoster
	Direct             domain.DirectSender
	Limiter            *pacing.RateLimiter
	Logger             *slog.Logger
	MaxAttachmentBytes int64
	MaxMediaPerMessage int
	MaxMessageLength   int
	TruncateText       bool
	Username           string // fixed webhook username; empty uses the source author
}

// Replicator copies messages. It is safe for concurrent use; all media
// downloads go through the shared queue.
type Replicator struct {
	queue    *workqueue.Queue[*domain.DownloadedAsset]
	fetcher  Fetcher
	poster   EndpointPoster
	direct   domain.DirectSender
	limiter  *pacing.RateLimiter
	logger   *slog.Logger
	maxBytes int64
	maxMedia int
	maxLen   int
	truncate bool
	username string
}

func New(cfg Config) *Replicator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = media.DefaultMaxBytes
	}
	if cfg.MaxMediaPerMessage <= 0 {
		cfg.MaxMediaPerMessage = DefaultMaxMedia
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.Queue == nil {
		cfg.Queue = workqueue.New[*domain.DownloadedAsset](3, cfg.Logger)
	}
	return &Replicator{
		queue:    cfg.Queue,
		fetcher:  cfg.Fetcher,
		poster:   cfg.Poster,
		direct:   cfg.Direct,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
		maxBytes: cfg.MaxAttachmentBytes,
		maxMedia: cfg.MaxMediaPerMessage,
		maxLen:   cfg.MaxMessageLength,
		truncate: cfg.TruncateText,
		username: cfg.Username,
	}
}

type mediaItem struct {
	url  string
	opts media.Options
}

// Replicate downloads the message's media and delivers it through mode.
func (r *Replicator) Replicate(ctx context.Context, msg domain.HistoryMessage, mode domain.DeliveryMode) Result {
	if msg.Automated {
		telemetry.CountMessage(Skipped.String())
		return Result{Outcome: Skipped}
	}

	ctx, span := telemetry.StartSpan(ctx, "replicate.message",
		attribute.String("message.id", msg.ID),
		attribute.String("channel.target", mode.Target()),
	)

	res := r.replicate(ctx, msg, mode)
	telemetry.CountMessage(res.Outcome.String())
	telemetry.CountSkippedMedia(res.SkippedMedia)
	span.SetAttributes(
		attribute.String("outcome", res.Outcome.String()),
		attribute.Int("media", res.Media),
	)
	telemetry.EndSpan(span, res.Err)
	return res
}

func (r *Replicator) replicate(ctx context.Context, msg domain.HistoryMessage, mode domain.DeliveryMode) Result {
	var res Result

	items, skipped := r.collect(msg)
	res.SkippedMedia = skipped

	futures := make([]*workqueue.Future[*domain.DownloadedAsset], len(items))
	for i, it := range items {
		it := it
		futures[i] = r.queue.Submit(ctx, func(ctx context.Context) (*domain.DownloadedAsset, error) {
			start := time.Now()
			asset, err := r.fetcher.Fetch(ctx, it.url, it.opts)
			telemetry.ObserveDownload(time.Since(start), err)
			return asset, err
		})
	}

	assets := make([]*domain.DownloadedAsset, 0, len(items))
	for i, f := range futures {
		out := f.Wait(ctx)
		if out.Err != nil {
			if errors.Is(out.Err, domain.ErrTooLarge) {
				res.SkippedMedia++
			} else {
				res.FailedMedia++
			}
			r.logger.Warn("media download failed", "message", msg.ID, "url", items[i].url, "err", out.Err)
			continue
		}
		assets = append(assets, out.Value)
		if out.Value.IsVideo() {
			res.HadVideo = true
		}
	}

	if strings.TrimSpace(msg.Content) == "" && len(assets) == 0 {
		res.Outcome = Empty
		res.HadVideo = false
		return res
	}

	if err := r.limiter.Wait(ctx); err != nil {
		res.Outcome = Failed
		res.Err = &domain.DeliveryError{ChannelID: mode.Target(), MessageID: msg.ID, Err: err}
		return res
	}

	start := time.Now()
	var err error
	var modeName string
	switch m := mode.(type) {
	case domain.ViaEndpoint:
		modeName = "endpoint"
		err = r.deliverEndpoint(ctx, m, msg, assets)
	case domain.DirectSend:
		modeName = "direct"
		err = r.deliverDirect(ctx, m, msg, assets)
	default:
		err = fmt.Errorf("unsupported delivery mode %T", mode)
	}
	telemetry.ObserveDelivery(modeName, time.Since(start), err)

	if err != nil {
		var de *domain.DeliveryError
		if !errors.As(err, &de) {
			de = &domain.DeliveryError{Err: err}
		}
		de.ChannelID = mode.Target()
		de.MessageID = msg.ID
		res.Outcome = Failed
		res.Err = de
		res.HadVideo = false
		return res
	}

	res.Outcome = Delivered
	res.Media = len(assets)
	return res
}

// collect lists the media to download: attachments first, then embedded
// images and videos, capped at maxMedia. Oversized attachments are counted
// as skipped and never downloaded.
func (r *Replicator) collect(msg domain.HistoryMessage) ([]mediaItem, int) {
	var items []mediaItem
	skipped := 0

	for _, a := range msg.Attachments {
		if a.Size > r.maxBytes {
			r.logger.Info("attachment over size limit skipped",
				"message", msg.ID, "file", a.Filename, "size", a.Size, "limit", r.maxBytes)
			skipped++
			continue
		}
		if len(items) >= r.maxMedia {
			skipped++
			continue
		}
		items = append(items, mediaItem{url: a.URL, opts: media.Options{
			MaxBytes:   r.maxBytes,
			Filename:   a.Filename,
			Hint:       a.ContentType,
			DefaultExt: strings.TrimPrefix(path.Ext(a.Filename), "."),
		}})
	}

	for i, e := range msg.Embeds {
		if e.URL == "" {
			continue
		}
		if len(items) >= r.maxMedia {
			skipped++
			continue
		}
		ext := "jpg"
		if e.Kind == domain.EmbedVideo {
			ext = "mp4"
		}
		items = append(items, mediaItem{url: e.URL, opts: media.Options{
			MaxBytes:   r.maxBytes,
			Filename:   fmt.Sprintf("embed%d", i),
			DefaultExt: ext,
			Hint:       e.ContentType,
		}})
	}
	return items, skipped
}

func (r *Replicator) deliverEndpoint(ctx context.Context, m domain.ViaEndpoint, msg domain.HistoryMessage, assets []*domain.DownloadedAsset) error {
	text := msg.Content
	if r.truncate {
		text = truncate(text, r.maxLen)
	}
	username := r.username
	if username == "" {
		username = msg.AuthorName
	}
	return r.poster.Post(ctx, m.Endpoint.URL, webhook.Payload{
		Content:   text,
		Username:  username,
		AvatarURL: msg.AuthorAvatarURL,
		Files:     assets,
	})
}

func (r *Replicator) deliverDirect(ctx context.Context, m domain.DirectSend, msg domain.HistoryMessage, assets []*domain.DownloadedAsset) error {
	if strings.TrimSpace(msg.Content) != "" {
		for _, chunk := range splitMessage(msg.Content, r.maxLen) {
			if err := r.direct.SendDirect(ctx, m.Channel.ID, chunk, nil); err != nil {
				return err
			}
		}
	}
	for _, a := range assets {
		if err := r.direct.SendDirect(ctx, m.Channel.ID, "", []*domain.DownloadedAsset{a}); err != nil {
			return err
		}
	}
	return nil
}
