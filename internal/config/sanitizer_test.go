package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyclehost/confcycle/modules/cache"
	"github.com/cyclehost/confcycle/modules/database"
	"github.com/cyclehost/confcycle/modules/httplisten"
)

func TestDefaultSanitizer_RedactsPasswords(t *testing.T) {
	sanitizer := NewDefaultSanitizer()

	cfg := &Config{
		Database:   database.Config{Password: "secret123"},
		Cache:      cache.Config{RedisPassword: "redispass"},
		HTTPListen: httplisten.Config{ListenAddr: "127.0.0.1:9090"},
	}

	sanitized := sanitizer.Sanitize(cfg)

	assert.Equal(t, "***REDACTED***", sanitized.Database.Password)
	assert.Equal(t, "***REDACTED***", sanitized.Cache.RedisPassword)
	assert.Equal(t, "127.0.0.1:9090", sanitized.HTTPListen.ListenAddr)
}

func TestDefaultSanitizer_DeepCopyLeavesOriginalUntouched(t *testing.T) {
	sanitizer := NewDefaultSanitizer()
	cfg := &Config{Database: database.Config{Password: "original"}}

	sanitized := sanitizer.Sanitize(cfg)

	assert.Equal(t, "original", cfg.Database.Password)
	assert.NotSame(t, cfg, sanitized)
}

func TestNewSanitizer_CustomRedactionValue(t *testing.T) {
	sanitizer := NewSanitizer("[HIDDEN]")
	cfg := &Config{Database: database.Config{Password: "secret"}}

	sanitized := sanitizer.Sanitize(cfg)
	assert.Equal(t, "[HIDDEN]", sanitized.Database.Password)
}

func TestDefaultSanitizer_EmptyConfigDoesNotPanic(t *testing.T) {
	sanitizer := NewDefaultSanitizer()
	sanitized := sanitizer.Sanitize(&Config{})
	assert.NotNil(t, sanitized)
}
