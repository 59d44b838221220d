package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"

	"chanmirror/internal/domain"
	"chanmirror/internal/pacing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSource holds messages with IDs 1..n (n newest) and serves them newest first.
type fakeSource struct {
	mu      sync.Mutex
	n       int
	calls   []string
	failAt  int // 1-based call number that fails; 0 = never
	onFetch func(call int)
}

func (f *fakeSource) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]domain.HistoryMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, beforeID)
	call := len(f.calls)
	f.mu.Unlock()

	if f.onFetch != nil {
		f.onFetch(call)
	}
	if f.failAt == call {
		return nil, errors.New("platform unavailable")
	}

	start := f.n
	if beforeID != "" {
		id, _ := strconv.Atoi(beforeID)
		start = id - 1
	}
	var page []domain.HistoryMessage
	for id := start; id >= 1 && len(page) < limit; id-- {
		page = append(page, domain.HistoryMessage{ID: strconv.Itoa(id), Content: fmt.Sprintf("msg %d", id)})
	}
	return page, nil
}

func TestRead_PaginatesOldestFirst(t *testing.T) {
	src := &fakeSource{n: 250}
	r := New(Config{Source: src, Logger: testLogger()})

	h := r.Read(context.Background(), "c1", pacing.NewStop())
	if h.Err != nil {
		t.Fatalf("unexpected error: %v", h.Err)
	}
	if len(src.calls) != 3 {
		t.Fatalf("expected exactly 3 fetches, got %d", len(src.calls))
	}
	if src.calls[0] != "" || src.calls[1] != "151" || src.calls[2] != "51" {
		t.Fatalf("unexpected cursors: %v", src.calls)
	}
	if h.Len() != 250 || h.Pages != 3 {
		t.Fatalf("expected 250 messages in 3 pages, got %d in %d", h.Len(), h.Pages)
	}

	prev := 0
	count := 0
	for {
		m, ok := h.Next()
		if !ok {
			break
		}
		id, _ := strconv.Atoi(m.ID)
		if id <= prev {
			t.Fatalf("messages not oldest-first: %d after %d", id, prev)
		}
		prev = id
		count++
	}
	if count != 250 {
		t.Fatalf("expected 250 messages, got %d", count)
	}
	if _, ok := h.Next(); ok {
		t.Fatal("history should stay exhausted")
	}
}

func TestRead_EmptyChannel(t *testing.T) {
	src := &fakeSource{n: 0}
	h := New(Config{Source: src, Logger: testLogger()}).Read(context.Background(), "c1", nil)
	if h.Len() != 0 || h.Err != nil || len(src.calls) != 1 {
		t.Fatalf("expected one empty fetch, got len=%d err=%v calls=%d", h.Len(), h.Err, len(src.calls))
	}
}

func TestRead_ExactMultipleOfPageSize(t *testing.T) {
	src := &fakeSource{n: 200}
	h := New(Config{Source: src, Logger: testLogger()}).Read(context.Background(), "c1", nil)
	// Two full pages, then an empty page ends pagination.
	if len(src.calls) != 3 || h.Len() != 200 {
		t.Fatalf("expected 3 calls and 200 messages, got %d and %d", len(src.calls), h.Len())
	}
}

func TestRead_FailureKeepsPartial(t *testing.T) {
	src := &fakeSource{n: 250, failAt: 2}
	h := New(Config{Source: src, Logger: testLogger()}).Read(context.Background(), "c1", nil)

	var pe *domain.PaginationError
	if !errors.As(h.Err, &pe) {
		t.Fatalf("expected PaginationError, got %v", h.Err)
	}
	if pe.Fetched != 100 || pe.Before != "151" {
		t.Fatalf("unexpected pagination error: %+v", pe)
	}
	if h.Len() != 100 {
		t.Fatalf("expected partial 100 messages, got %d", h.Len())
	}
	m, _ := h.Next()
	if m.ID != "151" {
		t.Fatalf("expected oldest fetched message 151 first, got %s", m.ID)
	}
}

func TestRead_StopBetweenPages(t *testing.T) {
	stop := pacing.NewStop()
	src := &fakeSource{n: 250, onFetch: func(call int) {
		if call == 1 {
			stop.Trigger()
		}
	}}
	h := New(Config{Source: src, Logger: testLogger()}).Read(context.Background(), "c1", stop)

	if len(src.calls) != 1 {
		t.Fatalf("expected pagination to stop after first page, got %d calls", len(src.calls))
	}
	if !errors.Is(h.Err, domain.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", h.Err)
	}
	if h.Len() != 100 {
		t.Fatalf("expected first page kept, got %d", h.Len())
	}
}

func TestRead_MaxMessages(t *testing.T) {
	src := &fakeSource{n: 250}
	h := New(Config{Source: src, Logger: testLogger(), MaxMessages: 120}).Read(context.Background(), "c1", nil)
	if h.Len() != 120 {
		t.Fatalf("expected 120 messages, got %d", h.Len())
	}
	m, _ := h.Next()
	if m.ID != "131" {
		t.Fatalf("expected the newest 120 messages oldest-first, got first %s", m.ID)
	}
}

func TestRead_OnPageCallback(t *testing.T) {
	var sizes []int
	src := &fakeSource{n: 150}
	New(Config{Source: src, Logger: testLogger(), OnPage: func(_ string, _ int, size int) {
		sizes = append(sizes, size)
	}}).Read(context.Background(), "c1", nil)
	if len(sizes) != 2 || sizes[0] != 100 || sizes[1] != 50 {
		t.Fatalf("unexpected page sizes: %v", sizes)
	}
}
