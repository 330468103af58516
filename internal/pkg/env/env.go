package env

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnvInt reads an integer setting, falling back on parse failure.
func GetEnvInt(key string, def int) int {
	if val, err := strconv.Atoi(GetEnv(key, "")); err == nil {
		return val
	}
	return def
}

// GetEnvBool reads a boolean setting ("true"/"false", "1"/"0").
func GetEnvBool(key string, def bool) bool {
	if val, err := strconv.ParseBool(GetEnv(key, "")); err == nil {
		return val
	}
	return def
}

// GetEnvDuration reads a duration setting in Go syntax ("15m", "72h").
func GetEnvDuration(key string, def time.Duration) time.Duration {
	if val, err := time.ParseDuration(GetEnv(key, "")); err == nil {
		return val
	}
	return def
}

func SetupEnvFile() {
	// Look for .env file in project root
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/<binary> to project root
		"../../../.env", // Fallback for deeper nesting
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			// Successfully loaded env file
			return
		}
	}

	// No .env file found; run on OS environment and defaults alone.
	Env = map[string]string{}
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
