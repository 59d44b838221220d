package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleSummary(runID string, ts time.Time) *Summary {
	channels := []ChannelReport{
		{Name: "mirror-1", ID: "d1", Messages: 10, Errors: 1, Media: 4, Videos: 2, SkippedMedia: 1},
		{Name: "mirror-2", ID: "d2", Messages: 5, Errors: 0, Media: 1, Videos: 0},
	}
	return &Summary{
		RunID:       runID,
		Timestamp:   ts,
		State:       StateCompleted,
		Server:      "Target",
		ServerID:    "g1",
		WebhookName: "MIRROR",
		Webhooks: []Webhook{
			{URL: "https://discord.com/api/webhooks/1/tok", ID: "1", ChannelID: "d1", ChannelName: "mirror-1"},
		},
		Channels: channels,
		Stats:    ComputeTotals(channels),
	}
}

func TestComputeTotals(t *testing.T) {
	s := sampleSummary("r", time.Now())
	want := Totals{TotalSuccess: 15, TotalError: 1, TotalMedia: 5, TotalVideos: 2, TotalSkipped: 1, TotalChannels: 2}
	if s.Stats != want {
		t.Fatalf("expected %+v, got %+v", want, s.Stats)
	}
}

func TestJSONFile_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "webhooks_cloned.json")
	sink := &JSONFile{Path: path}

	if err := sink.Write(context.Background(), sampleSummary("run-1", time.Now())); err != nil {
		t.Fatalf("write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"timestamp", "server", "serverId", "webhookName", "webhooks", "stats"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("summary missing %q", key)
		}
	}
	stats := doc["stats"].(map[string]any)
	if stats["totalChannels"].(float64) != 2 || stats["totalSuccess"].(float64) != 15 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	got, err := ReadJSON(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != "run-1" || len(got.Webhooks) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("summary holds webhook tokens, expected 0600, got %v", info.Mode().Perm())
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "runs.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	latest, err := store.Latest(ctx)
	if err != nil || latest != nil {
		t.Fatalf("expected empty store, got %v, %v", latest, err)
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := store.Write(ctx, sampleSummary("old", base)); err != nil {
		t.Fatal(err)
	}
	if err := store.Write(ctx, sampleSummary("new", base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	latest, err = store.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.RunID != "new" || latest.Stats.TotalChannels != 2 {
		t.Fatalf("unexpected latest: %+v", latest)
	}

	rows, err := store.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].RunID != "new" || rows[1].TotalSuccess != 15 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestSQLiteStore_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	for i := 0; i < 2; i++ {
		store, err := OpenSQLite(path, testLogger())
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		store.Close()
	}
}

func TestSlackNotifier(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &SlackNotifier{WebhookURL: srv.URL, Channel: "#ops"}
	if err := n.Write(context.Background(), sampleSummary("run-9", time.Now())); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "run-9") || !strings.Contains(body, `"channel":"#ops"`) {
		t.Fatalf("unexpected slack body: %s", body)
	}
	if strings.Contains(body, "api/webhooks") {
		t.Fatal("webhook URLs must not leak to slack")
	}
}

type failingSink struct{}

func (failingSink) Name() string                                { return "failing" }
func (failingSink) Write(ctx context.Context, s *Summary) error { return errors.New("disk full") }

func TestMulti_ContinuesAfterFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	m := &Multi{Sinks: []Sink{failingSink{}, &JSONFile{Path: path}}, Logger: testLogger()}

	err := m.Write(context.Background(), sampleSummary("r", time.Now()))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("second sink should still run: %v", err)
	}
}

func TestConsole_HidesWebhookTokens(t *testing.T) {
	var buf strings.Builder
	c := &Console{Out: &buf}
	if err := c.Write(context.Background(), sampleSummary("r1", time.Now())); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "/tok") {
		t.Fatalf("console output leaked a webhook token:\n%s", out)
	}
	if !strings.Contains(out, "#mirror-1") || !strings.Contains(out, "Total: 2 channels, 15 messages") {
		t.Fatalf("unexpected console output:\n%s", out)
	}

	buf.Reset()
	c.ShowSecrets = true
	_ = c.Write(context.Background(), sampleSummary("r1", time.Now()))
	if !strings.Contains(buf.String(), "https://discord.com/api/webhooks/1/tok") {
		t.Fatalf("expected full URL with ShowSecrets:\n%s", buf.String())
	}
}
