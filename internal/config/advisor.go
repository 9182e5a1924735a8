package config

import (
	"time"

	"github.com/naturia/advisor/pkg/config"
)

// Config stores environment configuration for the advisor service.
type Config struct {
	Port               string
	DatabaseURL        string
	ChatbotID          string
	AnswerWebhookURL   string
	SearchWebhookURL   string
	AnswerTimeout      time.Duration
	SearchTimeout      time.Duration
	MaxHistoryMessages int
	HistoryEnabled     bool
}

// LoadConfig loads the advisor configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port:               config.GetEnv("PORT", "18020"),
		DatabaseURL:        config.RequireEnv("DATABASE_URL"),
		ChatbotID:          config.GetEnv("ADVISOR_CHATBOT_ID", "advisor"),
		AnswerWebhookURL:   config.RequireEnv("ANSWER_WEBHOOK_URL"),
		SearchWebhookURL:   config.RequireEnv("SEARCH_WEBHOOK_URL"),
		AnswerTimeout:      config.GetEnvDuration("ANSWER_TIMEOUT", 30*time.Second),
		SearchTimeout:      config.GetEnvDuration("SEARCH_TIMEOUT", 15*time.Second),
		MaxHistoryMessages: config.GetEnvInt("ADVISOR_MAX_HISTORY_MESSAGES", 20),
		HistoryEnabled:     config.GetEnvBool("ADVISOR_HISTORY_ENABLED", true),
	}
}
