package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"chanmirror/internal/domain"
)

// CLI reads operator commands from a terminal.
type CLI struct {
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	mu     sync.Mutex // serializes writes to out
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start reads lines until EOF, "quit", or ctx cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	bus.OnOutbound(c.Name(), func(msg domain.OutboundMessage) {
		c.write(msg.Content + "\nmirror> ")
	})

	c.write("chanmirror console. Type help for commands, quit to detach.\nmirror> ")

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err // nil on EOF
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				c.write("mirror> ")
				continue
			}
			switch line {
			case "quit", "exit", "/quit", "/q":
				c.logger.Info("console detached")
				return nil
			}
			if _, ok := ParseCommand(line); !ok {
				c.write("Unknown command. Type help for commands.\nmirror> ")
				continue
			}
			bus.Publish(domain.InboundMessage{
				Surface:   c.Name(),
				ChatID:    "console",
				SenderID:  "operator",
				Content:   line,
				Timestamp: time.Now(),
			})
		}
	}
}

func (c *CLI) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprint(c.out, s)
}

// Stop is a no-op; the console exits when Start returns.
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	c.write(content + "\n")
	return nil
}
