package config

import (
	"encoding/json"
	"strings"
)

// Sanitizer redacts sensitive fields before a Config is logged.
type Sanitizer interface {
	Sanitize(cfg *Config) *Config
}

// DefaultSanitizer implements Sanitizer.
type DefaultSanitizer struct {
	redactionValue string
}

// NewDefaultSanitizer creates a DefaultSanitizer using the standard
// redaction placeholder.
func NewDefaultSanitizer() Sanitizer {
	return &DefaultSanitizer{redactionValue: "***REDACTED***"}
}

// NewSanitizer creates a DefaultSanitizer with a custom redaction value.
func NewSanitizer(redactionValue string) Sanitizer {
	return &DefaultSanitizer{redactionValue: redactionValue}
}

// Sanitize returns a deep copy of cfg with the connection string redacted.
func (s *DefaultSanitizer) Sanitize(cfg *Config) *Config {
	sanitized := s.deepCopy(cfg)
	sanitized.Connection.ConnectionString = s.redactURL(sanitized.Connection.ConnectionString)
	return sanitized
}

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

func (s *DefaultSanitizer) redactURL(dsn string) string {
	if dsn == "" {
		return dsn
	}
	if strings.Contains(dsn, "@") || strings.Contains(dsn, "password=") {
		return s.redactionValue
	}
	return dsn
}
