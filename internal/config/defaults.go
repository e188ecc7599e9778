package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			DefaultProvider:       "openai",
			MaxConcurrentRequests: 5,
		},
		Telegram: TelegramConfig{
			ParseMode:      "Markdown",
			SummaryCommand: "sunto",
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled: true,
				APIBase: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			"ollama": {
				Enabled: false,
				APIBase: "http://localhost:11434",
				Model:   "llama3.1:8b",
			},
		},
		Summary: SummaryConfig{
			ChunkSizeMessages:     70,
			MaxParallelChunks:     3,
			MaxContextTokens:      4096,
			CharsPerToken:         4,
			BulletMaxChars:        200,
			MaxChars:              2000,
			OnPartialFailure:      "note",
			RequestTimeoutSeconds: 120,
		},
		Mention: MentionConfig{
			RecentCount: 25,
			RecentHours: 6,
			OlderCount:  10,
		},
		Storage: StorageConfig{
			DBPath:        "~/.suntobot/messages.db",
			RetentionDays: 0,
		},
	}
}
