// Package history reads the complete message history of a channel using
// before-cursor pagination.
package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chanmirror/internal/domain"
	"chanmirror/internal/pacing"
)

// PageSize is the largest page the platform returns.
const PageSize = 100

// Config configures a Reader.
type Config struct {
	Source      domain.HistorySource
	Logger      *slog.Logger
	PageDelay   time.Duration
	MaxMessages int // 0 = unlimited
	// OnPage is called after every successful page fetch.
	OnPage func(channelID string, page, size int)
}

// Reader fetches channel history page by page.
type Reader struct {
	source      domain.HistorySource
	logger      *slog.Logger
	pageDelay   time.Duration
	maxMessages int
	onPage      func(string, int, int)
}

func New(cfg Config) *Reader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reader{
		source:      cfg.Source,
		logger:      cfg.Logger,
		pageDelay:   cfg.PageDelay,
		maxMessages: cfg.MaxMessages,
		onPage:      cfg.OnPage,
	}
}

// History is an oldest-first sequence of messages. It is consumed once:
// after Next has returned false it keeps returning false.
type History struct {
	ChannelID string
	Pages     int
	// Err is a *domain.PaginationError when retrieval stopped early; the
	// messages gathered before the failure are still available.
	Err error

	msgs []domain.HistoryMessage
	pos  int
}

// Len returns the number of messages not yet consumed.
func (h *History) Len() int { return len(h.msgs) - h.pos }

// Next returns the next oldest message.
func (h *History) Next() (domain.HistoryMessage, bool) {
	if h.pos >= len(h.msgs) {
		h.msgs = nil
		return domain.HistoryMessage{}, false
	}
	m := h.msgs[h.pos]
	h.msgs[h.pos] = domain.HistoryMessage{}
	h.pos++
	return m, true
}

// Read pages backwards from the newest message until a short or empty page,
// then returns the result oldest-first. stop is checked before every fetch.
func (r *Reader) Read(ctx context.Context, channelID string, stop *pacing.Stop) *History {
	h := &History{ChannelID: channelID}
	var all []domain.HistoryMessage
	before := ""

	for {
		if h.Pages > 0 {
			if err := pacing.Sleep(ctx, stop, r.pageDelay); err != nil {
				r.stopEarly(h, before, len(all), err)
				break
			}
		} else if stop.Stopped() {
			r.stopEarly(h, before, 0, domain.ErrStopped)
			break
		}

		limit := PageSize
		if r.maxMessages > 0 {
			if remaining := r.maxMessages - len(all); remaining < limit {
				limit = remaining
			}
			if limit <= 0 {
				break
			}
		}

		page, err := r.source.MessagesBefore(ctx, channelID, before, limit)
		if err != nil {
			h.Err = &domain.PaginationError{ChannelID: channelID, Before: before, Fetched: len(all), Err: err}
			r.logger.Warn("history page failed, keeping partial result",
				"channel", channelID, "fetched", len(all), "err", err)
			break
		}
		h.Pages++
		if r.onPage != nil {
			r.onPage(channelID, h.Pages, len(page))
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		before = page[len(page)-1].ID

		r.logger.Debug("history page", "channel", channelID, "page", h.Pages, "size", len(page), "total", len(all))

		if len(page) < limit {
			break
		}
	}

	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	h.msgs = all

	r.logger.Info("history fetched", "channel", channelID, "messages", len(all), "pages", h.Pages)
	return h
}

func (r *Reader) stopEarly(h *History, before string, fetched int, err error) {
	if errors.Is(err, domain.ErrStopped) {
		r.logger.Info("history retrieval stopped", "channel", h.ChannelID, "fetched", fetched)
	}
	h.Err = &domain.PaginationError{ChannelID: h.ChannelID, Before: before, Fetched: fetched, Err: err}
}
