package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"chanmirror/internal/config"
	"chanmirror/internal/platform"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your chanmirror setup",
		Long: `Verifies that the configuration, Discord credentials, target server,
summary destinations and status server port are correctly set up.
Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("chanmirror doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'chanmirror init' or 'chanmirror wizard' to create one.\n")
				return fmt.Errorf("no config file")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			if err := config.LoadDotEnv(filepath.Dir(cfgPath)); err != nil {
				printWarn(".env", err.Error())
				warned++
			}
			cfg, err := config.Read(cfgPath)
			if err != nil {
				printFail("Config parse", err.Error())
				return fmt.Errorf("config unreadable")
			}
			if err := config.Validate(cfg); err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			// 3. Discord credentials and target server
			if cfg.Discord.Token != "" && cfg.Mirror.TargetGuildID != "" {
				if name, err := checkDiscord(cfg); err != nil {
					printFail("Discord", err.Error())
					failed++
				} else {
					printPass("Discord", "target server: "+name)
					passed++
				}
			}

			// 4. Summary destinations
			if cfg.Report.JSONPath != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Report.JSONPath), 0o755); err != nil {
					printFail("Summary file", err.Error())
					failed++
				} else {
					printPass("Summary file", cfg.Report.JSONPath)
					passed++
				}
			}
			if cfg.Report.SQLitePath != "" {
				if err := checkDatabase(cfg.Report.SQLitePath); err != nil {
					printFail("Summary database", err.Error())
					failed++
				} else {
					printPass("Summary database", cfg.Report.SQLitePath)
					passed++
				}
			}
			if cfg.Report.SlackWebhookURL != "" {
				printPass("Slack notify", "configured")
				passed++
			}

			// 5. Control surfaces
			if cfg.Control.Telegram.Enabled && len(cfg.Control.Telegram.AllowFrom) == 0 {
				printWarn("Telegram", "enabled but allowFrom is empty; nobody can send commands")
				warned++
			}
			if cfg.Control.Discord.Enabled && cfg.Discord.Bot && len(cfg.Control.OperatorIDs) == 0 {
				printWarn("Discord control", "bot token with no operatorIds; nobody can send commands")
				warned++
			}

			// 6. Status server port
			if cfg.Server.Enabled {
				if err := checkPort(cfg.Server.Port); err != nil {
					printWarn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
					warned++
				} else {
					printPass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
					passed++
				}
				if cfg.Server.AuthToken == "" && cfg.Server.Host != "127.0.0.1" && cfg.Server.Host != "localhost" {
					printWarn("Server auth", "no authToken while listening on "+cfg.Server.Host)
					warned++
				}
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running chanmirror.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nchanmirror should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! chanmirror is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDiscord resolves the target guild with the configured token.
func checkDiscord(cfg *config.Config) (string, error) {
	d, err := platform.NewDiscord(platform.DiscordConfig{Token: cfg.Discord.Token, Bot: cfg.Discord.Bot, Logger: logger})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g, err := d.Guild(ctx, cfg.Mirror.TargetGuildID)
	if err != nil {
		return "", fmt.Errorf("target server %s: %w", cfg.Mirror.TargetGuildID, err)
	}
	return g.Name, nil
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
