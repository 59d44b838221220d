package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:   "~/.chanmirror",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Discord: DiscordConfig{
			TimeoutSeconds: 30,
		},
		Mirror: MirrorConfig{
			ChannelPrefix: "mirror",
			Naming:        "prefix",
			ProgressEvery: 25,
		},
		Pacing: PacingConfig{
			PageDelayMs:         1000,
			InterMessageDelayMs: 300,
			ErrorDelayMs:        2000,
			ProvisionDelayMs:    500,
		},
		Media: MediaConfig{
			MaxConcurrentUploads: 3,
			MaxAttachmentBytes:   8 * 1024 * 1024,
			MaxMediaPerMessage:   10,
			FetchTimeoutSeconds:  45,
			MaxRetries:           1,
		},
		Delivery: DeliveryConfig{
			Mode:               DeliveryWebhook,
			TruncateText:       true,
			MaxMessageLength:   2000,
			PostTimeoutSeconds: 60,
		},
		Report: ReportConfig{
			JSONPath: "webhooks_cloned.json",
			Console:  true,
		},
		Control: ControlConfig{
			AutoStartDelaySeconds: 2,
			CLI:                   CLIControl{Enabled: true},
		},
		Server: ServerConfig{
			Enabled:   true,
			Host:      "127.0.0.1",
			Port:      3000,
			WebSocket: false,
		},
		Telemetry: TelemetryConfig{
			Metrics:     true,
			ServiceName: "chanmirror",
		},
	}
}
