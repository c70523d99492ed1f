/*
Package config loads server settings from the environment.

PURPOSE:
  Reads an optional .env file, then environment variables, and fills in
  defaults for anything unset. Command-line flags in cmd/server override
  these values.

VARIABLES:
  PORT                    HTTP port (default: 8080)
  DB_PATH                 SQLite database path (default: subsidy.db)
  ADVANCEMENT_SCHEDULE    Cron expression for the monthly job (default: "0 0 1 * *")
  SCHEDULER_ENABLED       Run the monthly job automatically (default: true)
  CORS_ORIGINS            Comma-separated allowed origins
  SEED_FILE               Reference JSON document applied at startup

SEE ALSO:
  - cmd/server/main.go: Flag overrides
  - api/scheduler.go: Schedule consumer
*/
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds server settings.
type Config struct {
	Port                int
	DBPath              string
	AdvancementSchedule string
	SchedulerEnabled    bool
	CORSOrigins         []string
	SeedFile            string
}

// Default values.
const (
	DefaultPort                = 8080
	DefaultDBPath              = "subsidy.db"
	DefaultAdvancementSchedule = "0 0 1 * *"
)

// Load reads .env files (if any) and the environment.
func Load(envFiles ...string) Config {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Println("[Config] No .env file found, using system environment")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	return Config{
		Port:                getEnvInt("PORT", DefaultPort),
		DBPath:              getEnvOrDefault("DB_PATH", DefaultDBPath),
		AdvancementSchedule: getEnvOrDefault("ADVANCEMENT_SCHEDULE", DefaultAdvancementSchedule),
		SchedulerEnabled:    getEnvBool("SCHEDULER_ENABLED", true),
		CORSOrigins:         getEnvList("CORS_ORIGINS"),
		SeedFile:            strings.TrimSpace(os.Getenv("SEED_FILE")),
	}
}

func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		switch strings.ToLower(v) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[Config] Invalid %s=%q, using %d", key, v, def)
		return def
	}
	return i
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
