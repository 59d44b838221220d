package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"chanmirror/internal/domain"
)

// Config is the root configuration for chanmirror.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Discord   DiscordConfig   `json:"discord" yaml:"discord"`
	Mirror    MirrorConfig    `json:"mirror" yaml:"mirror"`
	Pacing    PacingConfig    `json:"pacing" yaml:"pacing"`
	Media     MediaConfig     `json:"media" yaml:"media"`
	Delivery  DeliveryConfig  `json:"delivery" yaml:"delivery"`
	Report    ReportConfig    `json:"report" yaml:"report"`
	Control   ControlConfig   `json:"control" yaml:"control"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

type GeneralConfig struct {
	DataDir   string `json:"dataDir" yaml:"dataDir"`
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat"`         // "text" | "json"
	LogFile   string `json:"logFile,omitempty" yaml:"logFile"` // optional log file path
}

type DiscordConfig struct {
	Token string `json:"token" yaml:"token"`
	// Bot selects bot-token authentication. When false the token is used as
	// a user session token.
	Bot            bool `json:"bot" yaml:"bot"`
	TimeoutSeconds int  `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type MirrorConfig struct {
	SourceGuildID    string         `json:"sourceGuildId,omitempty" yaml:"sourceGuildId"`
	SourceChannelIDs FlexStringList `json:"sourceChannelIds,omitempty" yaml:"sourceChannelIds"`
	TargetGuildID    string         `json:"targetGuildId" yaml:"targetGuildId"`
	ChannelPrefix    string         `json:"channelPrefix" yaml:"channelPrefix"`
	Naming           string         `json:"naming" yaml:"naming"` // "prefix" | "source"
	CopyPermissions  bool           `json:"copyPermissions" yaml:"copyPermissions"`
	MaxMessages      int            `json:"maxMessagesPerChannel,omitempty" yaml:"maxMessagesPerChannel"` // 0 = whole history
	ProgressEvery    int            `json:"progressEvery" yaml:"progressEvery"`
}

// PacingConfig holds the deliberate delays, in milliseconds.
type PacingConfig struct {
	PageDelayMs         int     `json:"pageDelayMs" yaml:"pageDelayMs"`
	InterMessageDelayMs int     `json:"interMessageDelayMs" yaml:"interMessageDelayMs"`
	ErrorDelayMs        int     `json:"errorDelayMs" yaml:"errorDelayMs"`
	ProvisionDelayMs    int     `json:"provisionDelayMs" yaml:"provisionDelayMs"`
	DeliveriesPerMinute float64 `json:"deliveriesPerMinute,omitempty" yaml:"deliveriesPerMinute"` // 0 = unlimited
	DeliveryBurst       int     `json:"deliveryBurst,omitempty" yaml:"deliveryBurst"`
}

type MediaConfig struct {
	MaxConcurrentUploads int    `json:"maxConcurrentUploads" yaml:"maxConcurrentUploads"`
	MaxAttachmentBytes   int64  `json:"maxAttachmentBytes" yaml:"maxAttachmentBytes"`
	MaxMediaPerMessage   int    `json:"maxMediaPerMessage" yaml:"maxMediaPerMessage"`
	FetchTimeoutSeconds  int    `json:"fetchTimeoutSeconds" yaml:"fetchTimeoutSeconds"`
	MaxRetries           int    `json:"maxRetries" yaml:"maxRetries"`
	UserAgent            string `json:"userAgent,omitempty" yaml:"userAgent"`
}

// Delivery modes.
const (
	DeliveryWebhook = "webhook"
	DeliveryDirect  = "direct"
)

type DeliveryConfig struct {
	Mode               string `json:"mode" yaml:"mode"` // DeliveryWebhook | DeliveryDirect
	WebhookName        string `json:"webhookName,omitempty" yaml:"webhookName"`
	Username           string `json:"username,omitempty" yaml:"username"` // empty = source author
	TruncateText       bool   `json:"truncateText" yaml:"truncateText"`
	MaxMessageLength   int    `json:"maxMessageLength" yaml:"maxMessageLength"`
	PostTimeoutSeconds int    `json:"postTimeoutSeconds" yaml:"postTimeoutSeconds"`
}

type ReportConfig struct {
	JSONPath        string `json:"jsonPath" yaml:"jsonPath"`
	SQLitePath      string `json:"sqlitePath,omitempty" yaml:"sqlitePath"` // empty = disabled
	SlackWebhookURL string `json:"slackWebhookUrl,omitempty" yaml:"slackWebhookUrl"`
	SlackChannel    string `json:"slackChannel,omitempty" yaml:"slackChannel"`
	Console         bool   `json:"console" yaml:"console"`
	// ShowWebhookURLs prints full webhook URLs (which embed their token) in
	// the console report and in list-endpoints replies.
	ShowWebhookURLs bool   `json:"showWebhookUrls,omitempty" yaml:"showWebhookUrls"`
}

type ControlConfig struct {
	AutoStart             bool            `json:"autoStart" yaml:"autoStart"`
	AutoStartDelaySeconds int             `json:"autoStartDelaySeconds" yaml:"autoStartDelaySeconds"`
	OperatorIDs           FlexStringList  `json:"operatorIds,omitempty" yaml:"operatorIds"`
	CLI                   CLIControl      `json:"cli" yaml:"cli"`
	Discord               DiscordControl  `json:"discord" yaml:"discord"`
	Telegram              TelegramControl `json:"telegram" yaml:"telegram"`
}

type CLIControl struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DiscordControl accepts commands from the mirror's own Discord session.
type DiscordControl struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type TelegramControl struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
// Discord and Telegram IDs are often pasted as bare numbers.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err == nil {
			// Snowflake IDs do not survive a float64 round trip.
			if i, err := n.Int64(); err == nil {
				result = append(result, strconv.FormatInt(i, 10))
				continue
			}
			if f, err := n.Float64(); err == nil {
				result = append(result, strconv.FormatInt(int64(f), 10))
				continue
			}
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type ServerConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
	WebSocket bool   `json:"websocket" yaml:"websocket"` // requires AuthToken
	// AuthToken, when set, is required as a Bearer token on /status and /ws.
	AuthToken string `json:"authToken,omitempty" yaml:"authToken"`
}

type TelemetryConfig struct {
	Metrics      bool   `json:"metrics" yaml:"metrics"`
	OTLPEndpoint string `json:"otlpEndpoint,omitempty" yaml:"otlpEndpoint"` // empty = OTEL_EXPORTER_OTLP_ENDPOINT or disabled
	ServiceName  string `json:"serviceName" yaml:"serviceName"`
}

// DefaultConfigDir returns the default config directory (~/.chanmirror).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chanmirror"
	}
	return filepath.Join(home, ".chanmirror")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads .env from the working directory and from dir, if present.
// Variables already set in the environment are not overwritten.
func LoadDotEnv(dir string) error {
	for _, p := range []string{".env", filepath.Join(dir, ".env")} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads, expands, overrides and validates the config at path.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation. The config CLI uses it so that an
// incomplete file can still be inspected and fixed.
func Read(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Report.JSONPath = ExpandPath(cfg.Report.JSONPath)
	cfg.Report.SQLitePath = ExpandPath(cfg.Report.SQLitePath)

	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// ApplyEnv overrides config values from well-known environment variables.
func ApplyEnv(cfg *Config) error {
	var errs []error

	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	list := func(dst *FlexStringList, key string) {
		if v := os.Getenv(key); strings.TrimSpace(v) != "" {
			*dst = splitList(v)
		}
	}
	num := func(key string, set func(n int64)) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		set(n)
	}

	str(&cfg.Discord.Token, "DISCORD_TOKEN", "USER_TOKEN")
	str(&cfg.Mirror.SourceGuildID, "SOURCE_GUILD_ID")
	str(&cfg.Mirror.TargetGuildID, "TARGET_GUILD_ID")
	str(&cfg.Mirror.ChannelPrefix, "CHANNEL_PREFIX")
	str(&cfg.Control.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	str(&cfg.Report.SlackWebhookURL, "SLACK_WEBHOOK_URL")
	list(&cfg.Mirror.SourceChannelIDs, "SOURCE_CHANNEL_IDS")
	list(&cfg.Control.OperatorIDs, "OPERATOR_IDS")
	num("MAX_CONCURRENT_UPLOADS", func(n int64) { cfg.Media.MaxConcurrentUploads = int(n) })
	num("MAX_ATTACHMENT_BYTES", func(n int64) { cfg.Media.MaxAttachmentBytes = n })
	str(&cfg.Server.Host, "HOST")
	str(&cfg.Server.AuthToken, "SERVER_AUTH_TOKEN")
	num("PORT", func(n int64) { cfg.Server.Port = int(n) })

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

func splitList(s string) FlexStringList {
	var out FlexStringList
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml. The file
// holds tokens, so it is private to the owner.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. All problems are
// reported at once in a *domain.ConfigurationError.
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Discord.Token) == "" || envVarPattern.MatchString(cfg.Discord.Token) {
		errs = append(errs, "discord.token is required (or set DISCORD_TOKEN)")
	}
	if cfg.Mirror.TargetGuildID == "" {
		errs = append(errs, "mirror.targetGuildId is required (or set TARGET_GUILD_ID)")
	}
	if cfg.Mirror.SourceGuildID != "" && cfg.Mirror.SourceGuildID == cfg.Mirror.TargetGuildID {
		errs = append(errs, "mirror.sourceGuildId must differ from mirror.targetGuildId")
	}
	switch cfg.Mirror.Naming {
	case "prefix":
		if strings.TrimSpace(cfg.Mirror.ChannelPrefix) == "" {
			errs = append(errs, "mirror.channelPrefix is required when naming is \"prefix\"")
		}
	case "source":
	default:
		errs = append(errs, "mirror.naming must be one of: prefix, source")
	}
	if cfg.Mirror.MaxMessages < 0 {
		errs = append(errs, "mirror.maxMessagesPerChannel must be >= 0")
	}
	if cfg.Mirror.ProgressEvery < 1 {
		errs = append(errs, "mirror.progressEvery must be >= 1")
	}

	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	p := cfg.Pacing
	if p.PageDelayMs < 0 || p.InterMessageDelayMs < 0 || p.ErrorDelayMs < 0 || p.ProvisionDelayMs < 0 {
		errs = append(errs, "pacing delays must be >= 0")
	}
	if p.DeliveriesPerMinute < 0 {
		errs = append(errs, "pacing.deliveriesPerMinute must be >= 0")
	}

	if cfg.Media.MaxConcurrentUploads < 1 || cfg.Media.MaxConcurrentUploads > 50 {
		errs = append(errs, "media.maxConcurrentUploads must be between 1 and 50")
	}
	if cfg.Media.MaxAttachmentBytes < 1 {
		errs = append(errs, "media.maxAttachmentBytes must be >= 1")
	}
	if cfg.Media.MaxMediaPerMessage < 1 || cfg.Media.MaxMediaPerMessage > 10 {
		errs = append(errs, "media.maxMediaPerMessage must be between 1 and 10")
	}
	if cfg.Media.FetchTimeoutSeconds < 1 {
		errs = append(errs, "media.fetchTimeoutSeconds must be >= 1")
	}
	if cfg.Media.MaxRetries < 0 {
		errs = append(errs, "media.maxRetries must be >= 0")
	}

	switch cfg.Delivery.Mode {
	case DeliveryWebhook, DeliveryDirect:
	default:
		errs = append(errs, "delivery.mode must be one of: webhook, direct")
	}
	if cfg.Delivery.MaxMessageLength < 1 || cfg.Delivery.MaxMessageLength > 2000 {
		errs = append(errs, "delivery.maxMessageLength must be between 1 and 2000")
	}
	if cfg.Delivery.PostTimeoutSeconds < 1 {
		errs = append(errs, "delivery.postTimeoutSeconds must be >= 1")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.Enabled && cfg.Server.WebSocket && cfg.Server.AuthToken == "" {
		errs = append(errs, "server.authToken is required when server.websocket is enabled")
	}
	if cfg.Control.AutoStartDelaySeconds < 0 {
		errs = append(errs, "control.autoStartDelaySeconds must be >= 0")
	}
	if cfg.Control.Telegram.Enabled && cfg.Control.Telegram.Token == "" {
		errs = append(errs, "control.telegram.token is required when telegram control is enabled")
	}

	if len(errs) > 0 {
		return &domain.ConfigurationError{Problems: errs}
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory (used by wizard and Load).
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
