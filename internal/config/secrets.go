package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ErrMissingAPIKey is returned when no API key is found in either source.
var ErrMissingAPIKey = errors.New("config: GOOGLE_API_KEY not found in secrets file or environment")

// ConfigurationError reports an unusable configuration value.
// It is fatal at startup.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

type secretsFile struct {
	GoogleAPIKey string `toml:"GOOGLE_API_KEY"`
}

// ResolveAPIKey returns the API key from the secrets file at path, falling
// back to the GOOGLE_API_KEY environment variable. An empty result is not an
// error here; Validate reports it.
func ResolveAPIKey(path string) (string, error) {
	if path != "" {
		var s secretsFile
		_, err := toml.DecodeFile(path, &s)
		switch {
		case err == nil:
			if s.GoogleAPIKey != "" {
				return s.GoogleAPIKey, nil
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return "", &ConfigurationError{Field: "secrets", Err: fmt.Errorf("%s: %w", path, err)}
		}
	}
	return os.Getenv("GOOGLE_API_KEY"), nil
}
