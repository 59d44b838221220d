package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"chanmirror/internal/config"

	"github.com/spf13/cobra"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup of token, servers, naming and control surfaces",
		Long:  "Guides you through the Discord token, the target and source servers, channel naming, and the control surfaces. Writes config to the path used by --config or default.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Read(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}
	yes := func(def bool) (bool, error) {
		d := "n"
		if def {
			d = "y"
		}
		ans, err := prompt(d)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(strings.ToLower(ans), "y"), nil
	}

	// Step 1: Credentials
	fmt.Println("\n--- Step 1: Discord credentials ---")
	fmt.Fprint(os.Stdout, "Token: paste it or reference an env var (e.g. ${DISCORD_TOKEN})")
	tok, err := prompt("${DISCORD_TOKEN}")
	if err != nil {
		return err
	}
	cfg.Discord.Token = tok
	fmt.Fprint(os.Stdout, "Is this a bot token? (y/n)")
	if cfg.Discord.Bot, err = yes(cfg.Discord.Bot); err != nil {
		return err
	}

	// Step 2: Servers
	fmt.Println("\n--- Step 2: Servers ---")
	fmt.Fprint(os.Stdout, "Target server ID (channels are created here)")
	if cfg.Mirror.TargetGuildID, err = prompt(cfg.Mirror.TargetGuildID); err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, "Source server ID (empty = first other server the account is in)")
	if cfg.Mirror.SourceGuildID, err = prompt(cfg.Mirror.SourceGuildID); err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, "Source channel IDs, comma separated (empty = all text channels)")
	ids, err := prompt(strings.Join(cfg.Mirror.SourceChannelIDs, ","))
	if err != nil {
		return err
	}
	cfg.Mirror.SourceChannelIDs = nil
	for _, id := range strings.Split(ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.Mirror.SourceChannelIDs = append(cfg.Mirror.SourceChannelIDs, id)
		}
	}

	// Step 3: Naming
	fmt.Println("\n--- Step 3: Channel naming ---")
	fmt.Println("  1) prefix: mirror-1, mirror-2, ...")
	fmt.Println("  2) source: keep the source channel names")
	fmt.Fprint(os.Stdout, "Choose naming (1–2)")
	naming, err := prompt("1")
	if err != nil {
		return err
	}
	if naming == "2" {
		cfg.Mirror.Naming = "source"
	} else {
		cfg.Mirror.Naming = "prefix"
		fmt.Fprint(os.Stdout, "Channel prefix")
		if cfg.Mirror.ChannelPrefix, err = prompt(cfg.Mirror.ChannelPrefix); err != nil {
			return err
		}
	}

	// Step 4: Control
	fmt.Println("\n--- Step 4: Control ---")
	fmt.Fprint(os.Stdout, "Start a run automatically when 'serve' starts? (y/n)")
	if cfg.Control.AutoStart, err = yes(cfg.Control.AutoStart); err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, "Accept commands from Discord messages? (y/n)")
	if cfg.Control.Discord.Enabled, err = yes(cfg.Control.Discord.Enabled); err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, "Accept commands from a Telegram bot? (y/n)")
	if cfg.Control.Telegram.Enabled, err = yes(cfg.Control.Telegram.Enabled); err != nil {
		return err
	}
	if cfg.Control.Telegram.Enabled {
		fmt.Fprint(os.Stdout, "Telegram bot token (from @BotFather)")
		def := cfg.Control.Telegram.Token
		if def == "" {
			def = "${TELEGRAM_BOT_TOKEN}"
		}
		if cfg.Control.Telegram.Token, err = prompt(def); err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, "Allowed Telegram user IDs, comma separated")
		allow, err := prompt(strings.Join(cfg.Control.Telegram.AllowFrom, ","))
		if err != nil {
			return err
		}
		cfg.Control.Telegram.AllowFrom = nil
		for _, id := range strings.Split(allow, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Control.Telegram.AllowFrom = append(cfg.Control.Telegram.AllowFrom, id)
			}
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
	fmt.Println("Next: 'chanmirror doctor' to verify, then 'chanmirror run' or 'chanmirror serve'.")
	return nil
}
