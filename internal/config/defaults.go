package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
			BusBufferSize:         100,
		},
		Backend: BackendConfig{
			TimeoutSeconds: 120,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:            true,
				PollTimeoutSeconds: 30,
			},
			CLI: CLIConfig{
				UserID: "cli",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
	}
}
