package config

import "encoding/json"

// Sanitizer redacts secrets from a Config before it is logged or exposed
// over the admin HTTP surface.
type Sanitizer interface {
	Sanitize(cfg *Config) *Config
}

// DefaultSanitizer redacts every field that plausibly holds a credential:
// database and redis passwords, and nothing else, since this domain's
// configuration otherwise carries no secrets.
type DefaultSanitizer struct {
	redactionValue string
}

// NewDefaultSanitizer returns a Sanitizer using "***REDACTED***".
func NewDefaultSanitizer() Sanitizer {
	return &DefaultSanitizer{redactionValue: "***REDACTED***"}
}

// NewSanitizer returns a Sanitizer using a custom redaction placeholder.
func NewSanitizer(redactionValue string) Sanitizer {
	return &DefaultSanitizer{redactionValue: redactionValue}
}

func (s *DefaultSanitizer) Sanitize(cfg *Config) *Config {
	sanitized := s.deepCopy(cfg)
	sanitized.Database.Password = s.redactionValue
	sanitized.Cache.RedisPassword = s.redactionValue
	return sanitized
}

// deepCopy round-trips cfg through JSON so the caller's original is never
// mutated by redaction.
func (s *DefaultSanitizer) deepCopy(cfg *Config) *Config {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copied Config
	if err := json.Unmarshal(raw, &copied); err != nil {
		return cfg
	}
	return &copied
}
