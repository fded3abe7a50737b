package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvOverlay loads a .env file if present (missing file is not an
// error) and overlays recognized environment variables onto cfg.
func LoadEnvOverlay(cfg *Config) {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	if v := os.Getenv("HA_BASE_URL"); v != "" {
		cfg.HomeAssistantBaseURL = v
	}
	if v := os.Getenv("HA_TOKEN"); v != "" {
		cfg.HomeAssistantToken = v
	}
	if v := os.Getenv("HA_INVERTER_PREFIX"); v != "" {
		cfg.HomeAssistantInverterPrefix = v
	}
	if v := os.Getenv("HA_POLL_INTERVAL_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.InverterPollInterval = time.Duration(secs) * time.Second
		} else {
			log.Printf("config: ignoring invalid HA_POLL_INTERVAL_SECS=%q: %v", v, err)
		}
	}
	if v := os.Getenv("SUPERVISOR_TOKEN"); v != "" {
		// Home Assistant add-on supervisor token takes precedence over a
		// manually configured long-lived access token.
		cfg.HomeAssistantToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PRICE_API_SECURITY_TOKEN"); v != "" {
		cfg.PriceAPISecurityToken = v
	}
	if v := os.Getenv("POSTGRES_CONN_STRING"); v != "" {
		cfg.PostgresConnString = v
	}
	if v := os.Getenv("MQTT_BROKER_URL"); v != "" {
		cfg.MQTTBrokerURL = v
	}
}
