package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

const (
	DefaultAssistantName         = "Azure Deployer Assistant"
	DefaultAssistantInstructions = "You are assisting with resource deployment in Azure. Use the available functions to complete the task."
)

type Config struct {
	Port string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	AssistantID   string
	Model         string

	ToolsURL string

	RedisURL   string
	HistoryTTL time.Duration

	NATSURL string

	// Offline replaces the OpenAI runtime with the in-process one.
	Offline bool
	Debug   bool
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		Port:          GetEnv("PORT", "8080"),
		OpenAIAPIKey:  GetEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AssistantID:   GetEnv("ASSISTANT_ID", ""),
		Model:         GetEnv("ASSISTANT_MODEL", "gpt-4o"),
		ToolsURL:      GetEnv("TOOLS_URL", "http://localhost:5000"),
		RedisURL:      GetEnv("REDIS_URL", ""),
		HistoryTTL:    GetEnvDuration("HISTORY_TTL", 7*24*time.Hour),
		NATSURL:       GetEnv("NATS_URL", ""),
		Offline:       GetEnvBool("DEPLOYER_OFFLINE", false),
		Debug:         GetEnvBool("DEPLOYER_DEBUG", false),
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if !c.Offline {
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required unless running offline"))
		}
		if c.AssistantID == "" && c.Model == "" {
			errs = append(errs, errors.New("a model is required to create the assistant"))
		}
	}
	if c.ToolsURL == "" {
		errs = append(errs, errors.New("TOOLS_URL is required"))
	}
	return errors.Join(errs...)
}

func GetEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func GetEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(GetEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(GetEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return d
}
