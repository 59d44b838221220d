package control

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chanmirror/internal/bus"
	"chanmirror/internal/domain"
	"chanmirror/internal/mirror"
	"chanmirror/internal/report"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeMirror struct {
	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	status   mirror.Status
	webhooks []report.Webhook
}

func (f *fakeMirror) Start(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.running {
		return "", domain.ErrAlreadyRunning
	}
	f.running = true
	return "run-42", nil
}

func (f *fakeMirror) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.running
}

func (f *fakeMirror) Status() mirror.Status      { return f.status }
func (f *fakeMirror) Endpoints() []report.Webhook { return f.webhooks }

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
		ok   bool
	}{
		{"/start", CmdStart, true},
		{"!start", CmdStart, true},
		{"start", CmdStart, true},
		{"  STATUS  ", CmdStatus, true},
		{"/stop now", CmdStop, true},
		{"!webhooks", CmdEndpoints, true},
		{"/list-endpoints", CmdEndpoints, true},
		{"/status@mirror_bot", CmdStatus, true},
		{"help", CmdHelp, true},
		{"hello there", "", false},
		{"", "", false},
		{"/", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseCommand(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseCommand(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDispatcher_StartTwice(t *testing.T) {
	fm := &fakeMirror{}
	d := NewDispatcher(DispatcherConfig{Mirror: fm, Logger: testLogger()})
	ctx := context.Background()

	reply, handled := d.Handle(ctx, domain.InboundMessage{Content: "/start"})
	if !handled || !strings.Contains(reply, "run-42") {
		t.Fatalf("unexpected first start reply: %q", reply)
	}
	reply, _ = d.Handle(ctx, domain.InboundMessage{Content: "!start"})
	if !strings.Contains(reply, "already in progress") {
		t.Fatalf("second start should be refused, got %q", reply)
	}
	if fm.starts != 2 {
		t.Fatalf("expected 2 start attempts, got %d", fm.starts)
	}
}

func TestDispatcher_StopWhenIdle(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Mirror: &fakeMirror{}, Logger: testLogger()})
	reply, _ := d.Handle(context.Background(), domain.InboundMessage{Content: "stop"})
	if !strings.Contains(reply, "No mirror run") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestDispatcher_IgnoresChatter(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Mirror: &fakeMirror{}, Logger: testLogger()})
	if _, handled := d.Handle(context.Background(), domain.InboundMessage{Content: "good morning"}); handled {
		t.Fatal("non-command text should not be handled")
	}
}

func TestDispatcher_EndpointsHideTokens(t *testing.T) {
	fm := &fakeMirror{webhooks: []report.Webhook{
		{ID: "111", URL: "https://discord.com/api/webhooks/111/secret", ChannelName: "mirror-1"},
	}}
	d := NewDispatcher(DispatcherConfig{Mirror: fm, Logger: testLogger()})

	reply, _ := d.Handle(context.Background(), domain.InboundMessage{Content: "/webhooks"})
	if strings.Contains(reply, "secret") || !strings.Contains(reply, "#mirror-1: 111") {
		t.Fatalf("unexpected endpoints reply: %q", reply)
	}

	d = NewDispatcher(DispatcherConfig{Mirror: fm, Logger: testLogger(), ShowSecrets: true})
	reply, _ = d.Handle(context.Background(), domain.InboundMessage{Content: "/webhooks"})
	if !strings.Contains(reply, "/111/secret") {
		t.Fatalf("ShowSecrets should list full URLs: %q", reply)
	}
}

func TestFormatStatus(t *testing.T) {
	idle := FormatStatus(mirror.Status{State: mirror.StateIdle})
	if idle != "Idle." {
		t.Fatalf("unexpected idle status: %q", idle)
	}

	st := mirror.Status{
		State:     mirror.StateReplicating,
		RunID:     "r1",
		StartedAt: time.Now().Add(-time.Minute),
		Sources:   2,
		Channels: []mirror.ChannelStatus{
			{ChannelReport: report.ChannelReport{Name: "mirror-1", HistorySize: 50, Messages: 9, Errors: 1}, Processed: 10},
		},
		Totals: report.Totals{TotalSuccess: 1234, TotalMedia: 5},
	}
	out := FormatStatus(st)
	for _, want := range []string{"Run r1 replicating", "#mirror-1: 10/50 processed, 9 ok, 1 errors", "1,234 messages"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
}

func TestDispatcher_RunRepliesOnSameSurface(t *testing.T) {
	b := bus.New(4, testLogger())
	defer b.Close()

	replies := make(chan domain.OutboundMessage, 1)
	b.OnOutbound("telegram", func(m domain.OutboundMessage) { replies <- m })

	d := NewDispatcher(DispatcherConfig{Mirror: &fakeMirror{}, Bus: b, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	b.Publish(domain.InboundMessage{Surface: "telegram", ChatID: "99", Content: "/help"})

	select {
	case m := <-replies:
		if m.ChatID != "99" || !strings.Contains(m.Content, "Commands") {
			t.Fatalf("unexpected reply: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
}

func TestCLI_PublishesCommands(t *testing.T) {
	b := bus.New(4, testLogger())
	defer b.Close()

	pr, pw := io.Pipe()
	var out strings.Builder
	var outMu sync.Mutex
	cli := NewCLI(CLIConfig{Logger: testLogger(), In: pr, Out: writerFunc(func(p []byte) (int, error) {
		outMu.Lock()
		defer outMu.Unlock()
		return out.Write(p)
	})})

	done := make(chan error, 1)
	go func() { done <- cli.Start(context.Background(), b) }()

	io.WriteString(pw, "nonsense\n/status\n")
	select {
	case msg := <-b.Subscribe():
		if msg.Surface != "cli" || msg.Content != "/status" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not published")
	}

	io.WriteString(pw, "quit\n")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cli did not exit on quit")
	}
	pw.Close()

	outMu.Lock()
	defer outMu.Unlock()
	if !strings.Contains(out.String(), "Unknown command") {
		t.Fatalf("expected unknown-command hint, got %q", out.String())
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestDiscord_IsOperator(t *testing.T) {
	s := &discordgo.Session{State: discordgo.NewState()}
	s.State.User = &discordgo.User{ID: "self"}
	d := NewDiscord(DiscordConfig{Session: s, Operators: []string{"op1", " "}, Logger: testLogger()})

	for id, want := range map[string]bool{"self": true, "op1": true, "stranger": false, "": false} {
		if got := d.isOperator(s, id); got != want {
			t.Errorf("isOperator(%q) = %v, want %v", id, got, want)
		}
	}

	// A bot session must not obey itself.
	s.State.User.Bot = true
	if d.isOperator(s, "self") {
		t.Fatal("bot session should not treat its own messages as operator commands")
	}
}

func TestTelegram_HandleUpdatePublishesAllowedCommands(t *testing.T) {
	b := bus.New(4, testLogger())
	defer b.Close()
	tg := NewTelegram(TelegramConfig{AllowFrom: []string{"7"}, Logger: testLogger()})

	update := func(from int64, text string) tgbotapi.Update {
		return tgbotapi.Update{Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: from},
			Chat: &tgbotapi.Chat{ID: 500},
			Text: text,
			Date: int(time.Now().Unix()),
		}}
	}

	tg.handleUpdate(b, update(7, "just chatting"))
	tg.handleUpdate(b, update(7, "/stop"))

	select {
	case msg := <-b.Subscribe():
		if msg.Content != "/stop" || msg.ChatID != "500" || msg.SenderID != "7" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a published command")
	}
	select {
	case msg := <-b.Subscribe():
		t.Fatalf("chatter should not be published: %+v", msg)
	default:
	}
}

func TestSplitMessage(t *testing.T) {
	msg := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	chunks := splitMessage(msg, 40)
	if len(chunks) != 2 || chunks[0] != strings.Repeat("a", 30)+"\n" {
		t.Fatalf("expected newline split, got %q", chunks)
	}

	runes := strings.Repeat("é", 10) // 20 bytes
	for _, c := range splitMessage(runes, 7) {
		if !strings.HasPrefix(c, "é") || len(c)%2 != 0 {
			t.Fatalf("chunk split inside a rune: %q", c)
		}
	}
}
