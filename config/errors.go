package config

import (
	"fmt"
	"strings"
)

// ConfigurationError reports missing or malformed settings. It is only ever
// produced at startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration validation failed: %s", strings.Join(e.Problems, "; "))
}

func newConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Problems: []string{fmt.Sprintf(format, args...)}}
}
