package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrecedence(t *testing.T) {
	Env = map[string]string{"APP_PORT": "5000"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, "5000", GetEnv("APP_PORT", "4000"), "loaded env file wins")

	t.Setenv("ONLY_OS", "os-value")
	assert.Equal(t, "os-value", GetEnv("ONLY_OS", "fallback"), "OS environment is the fallback")

	assert.Equal(t, "default", GetEnv("MISSING", "default"))
}

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"WORKERS":  "8",
		"DRY_RUN":  "true",
		"INTERVAL": "90s",
		"BROKEN":   "not-a-number",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 8, GetEnvInt("WORKERS", 4))
	assert.Equal(t, 4, GetEnvInt("BROKEN", 4))
	assert.Equal(t, 4, GetEnvInt("MISSING", 4))

	assert.True(t, GetEnvBool("DRY_RUN", false))
	assert.False(t, GetEnvBool("BROKEN", false))

	assert.Equal(t, 90*time.Second, GetEnvDuration("INTERVAL", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDuration("BROKEN", time.Minute))
}
