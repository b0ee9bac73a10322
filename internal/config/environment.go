package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           int
	DBPath         string
	DataPath       string
	SessionTTL     int    // hours
	TokenSecret    string // signs extension API tokens
	SecretKey      string // 32-byte hex key for API-key encryption at rest
	GeminiAPIKey   string // server-wide fallback key
	ProductionMode bool
}

func GetConfig() Config {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	config := Config{
		Port:         8080, // default port
		DBPath:       "data/linkhoard.db",
		DataPath:     "data",
		SessionTTL:   24,
		TokenSecret:  os.Getenv("LINKHOARD_TOKEN_SECRET"),
		SecretKey:    os.Getenv("LINKHOARD_SECRET_KEY"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
	}

	if port := os.Getenv("LINKHOARD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}

	if dbPath := os.Getenv("LINKHOARD_DB_PATH"); dbPath != "" {
		config.DBPath = dbPath
	}

	if dataPath := os.Getenv("LINKHOARD_DATA_PATH"); dataPath != "" {
		config.DataPath = dataPath
	}

	if ttl := os.Getenv("LINKHOARD_SESSION_TTL_HOURS"); ttl != "" {
		if h, err := strconv.Atoi(ttl); err == nil && h > 0 {
			config.SessionTTL = h
		}
	}

	return config
}

func (c Config) GetAddress() string {
	return fmt.Sprintf(":%d", c.Port)
}
