package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"chanmirror/internal/domain"
	"chanmirror/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type captured struct {
	payload map[string]any
	files   map[string]string // form name -> filename
	types   map[string]string // form name -> content type
}

func captureServer(t *testing.T, status int, out *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("bad content type: %v", err)
			return
		}
		out.files = map[string]string{}
		out.types = map[string]string{}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("read part: %v", err)
				return
			}
			data, _ := io.ReadAll(part)
			if part.FormName() == "payload_json" {
				_ = json.Unmarshal(data, &out.payload)
				continue
			}
			out.files[part.FormName()] = part.FileName()
			out.types[part.FormName()] = part.Header.Get("Content-Type")
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPost_MultipartShape(t *testing.T) {
	var got captured
	srv := captureServer(t, http.StatusNoContent, &got)

	p := New(Config{Logger: testLogger()})
	err := p.Post(context.Background(), srv.URL, Payload{
		Content:   "hello",
		Username:  "alice",
		AvatarURL: "https://cdn.example/a.png",
		Files: []*domain.DownloadedAsset{
			{Data: []byte("img"), ContentType: "image/png", Ext: "png", Filename: "file0"},
			{Data: []byte("vid"), ContentType: "video/mp4", Ext: "mp4"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.payload["content"] != "hello" || got.payload["username"] != "alice" ||
		got.payload["avatar_url"] != "https://cdn.example/a.png" {
		t.Fatalf("unexpected payload: %v", got.payload)
	}
	if got.files["files[0]"] != "file0.png" || got.files["files[1]"] != "file.mp4" {
		t.Fatalf("unexpected files: %v", got.files)
	}
	if got.types["files[1]"] != "video/mp4" {
		t.Fatalf("expected video/mp4 part, got %q", got.types["files[1]"])
	}
}

func TestPost_BlankContentOmitted(t *testing.T) {
	var got captured
	srv := captureServer(t, http.StatusOK, &got)

	err := New(Config{Logger: testLogger()}).Post(context.Background(), srv.URL, Payload{
		Content: "   ",
		Files:   []*domain.DownloadedAsset{{Data: []byte("x"), Ext: "bin"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.payload["content"]; ok {
		t.Fatalf("blank content should be omitted: %v", got.payload)
	}
}

func TestPost_FileCap(t *testing.T) {
	var got captured
	srv := captureServer(t, http.StatusOK, &got)

	files := make([]*domain.DownloadedAsset, 12)
	for i := range files {
		files[i] = &domain.DownloadedAsset{Data: []byte{byte(i)}, Ext: "png"}
	}
	if err := New(Config{Logger: testLogger()}).Post(context.Background(), srv.URL, Payload{Files: files}); err != nil {
		t.Fatal(err)
	}
	if len(got.files) != MaxFiles {
		t.Fatalf("expected %d files, got %d", MaxFiles, len(got.files))
	}
}

func TestPost_EmptyPayloadRejected(t *testing.T) {
	err := New(Config{Logger: testLogger()}).Post(context.Background(), "http://unused.invalid", Payload{Content: ""})
	if err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestPost_RejectionIsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Cannot send an empty message"}`))
	}))
	defer srv.Close()

	err := New(Config{Logger: testLogger()}).Post(context.Background(), srv.URL, Payload{Content: "x"})
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected DeliveryError with 400, got %v", err)
	}
	if !strings.Contains(err.Error(), "empty message") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestPost_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(Config{Logger: testLogger(), Retry: transport.Policy{MaxRetries: 3}})
	err := p.Post(context.Background(), srv.URL, Payload{Content: "once"})
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected DeliveryError with 500, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("a 5xx may already have posted the message; expected 1 call, got %d", calls.Load())
	}
}

func TestPost_RateLimitRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := New(Config{Logger: testLogger(), Retry: transport.Policy{MaxRetries: 1}})
	if err := p.Post(context.Background(), srv.URL, Payload{Content: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}
