// Package config provides configuration loading, validation, and the model
// registry for agentkit. It handles YAML config files, environment variable
// substitution, env overrides, and the encrypted API-key store.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agentkit/pkg/agent/middleware/resilience/circuit"
	"agentkit/pkg/agent/middleware/resilience/retry"
)

// EnvPrefix prefixes every environment override, e.g. AGENTKIT_AGENT_MODEL.
const EnvPrefix = "AGENTKIT_"

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

var durationType = reflect.TypeOf(time.Duration(0))

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads path, substitutes ${VAR} placeholders, applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	data = envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		envVar := string(match[2 : len(match)-1])
		if value := os.Getenv(envVar); value != "" {
			return []byte(value)
		}
		return match // Return original if env var not found
	})

	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	applyEnvOverrides(&config)
	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("loaded config: model=%s", config.Agent.Model)
	return &config, nil
}

func applyEnvOverrides(config *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(config).Elem(), EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		tag := fieldType.Tag.Get("yaml")
		if tag == "" || tag == "-" {
			continue
		}
		envKey := prefix + strings.ToUpper(strings.Split(tag, ",")[0])

		switch {
		case field.Kind() == reflect.Struct:
			applyEnvOverridesRecursive(field, envKey+"_")
		case field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String &&
			field.Type().Elem().Kind() == reflect.Struct:
			for _, key := range field.MapKeys() {
				structValue := reflect.New(field.Type().Elem()).Elem()
				structValue.Set(field.MapIndex(key))
				applyEnvOverridesRecursive(structValue, envKey+"_"+strings.ToUpper(key.String())+"_")
				field.SetMapIndex(key, structValue)
			}
		default:
			if envValue := os.Getenv(envKey); envValue != "" {
				setFieldFromEnv(field, envValue)
			}
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	if field.Kind() == reflect.Pointer {
		elem := reflect.New(field.Type().Elem())
		if setScalar(elem.Elem(), envValue) {
			field.Set(elem)
		}
		return
	}
	if !setScalar(field, envValue) {
		logger.Warn("ignoring unparsable override %q for %s field", envValue, field.Type())
	}
}

func setScalar(field reflect.Value, envValue string) bool {
	if field.Type() == durationType {
		d, err := time.ParseDuration(envValue)
		if err != nil {
			return false
		}
		field.SetInt(int64(d))
		return true
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Bool:
		b, err := strconv.ParseBool(envValue)
		if err != nil {
			return false
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(envValue, 10, 64)
		if err != nil {
			return false
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(envValue, 64)
		if err != nil {
			return false
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return false
		}
		parts := strings.Split(envValue, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return false
	}
	return true
}

// applyDefaults sets default values for missing configuration.
func applyDefaults(config *Config) {
	if config.Agent.Model == "" {
		config.Agent.Model = DefaultModel
	}
	if config.Agent.SystemRole == "" {
		config.Agent.SystemRole = DefaultSystemRole
	}

	if config.Resilience.Retry == (retry.Config{}) {
		config.Resilience.Retry = retry.DefaultConfig
	}
	if config.Resilience.CircuitBreaker == (circuit.Config{}) {
		config.Resilience.CircuitBreaker = circuit.DefaultConfig
	}
	if config.Resilience.Timeout == 0 {
		config.Resilience.Timeout = DefaultTimeout
	}
	if config.Ollama.Host == "" {
		config.Ollama.Host = os.Getenv(EnvOllamaHost)
	}
}

// Validate checks the semantic constraints of a loaded configuration.
func Validate(config *Config) error {
	if _, err := GetModelProvider(config.Agent.Model); err != nil {
		return fmt.Errorf("agent.model: %w", err)
	}
	if t := config.Agent.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("agent.temperature must be between 0 and 2, got %g", *t)
	}
	if m := config.Agent.MaxTokens; m != nil && *m <= 0 {
		return fmt.Errorf("agent.max_tokens must be positive, got %d", *m)
	}

	r := config.Resilience.Retry
	if r.MaxAttempts < 1 {
		return fmt.Errorf("resilience.retry.max_attempts must be at least 1")
	}
	if r.BackoffFactor < 1 {
		return fmt.Errorf("resilience.retry.backoff_factor must be at least 1")
	}
	if r.MaxDelay < r.InitialDelay {
		return fmt.Errorf("resilience.retry.max_delay must not be less than initial_delay")
	}

	cb := config.Resilience.CircuitBreaker
	if cb.FailureThreshold < 1 || cb.SuccessThreshold < 1 {
		return fmt.Errorf("resilience.circuit_breaker thresholds must be at least 1")
	}
	if cb.Timeout <= 0 {
		return fmt.Errorf("resilience.circuit_breaker.timeout must be positive")
	}

	for provider, limits := range config.Resilience.RateLimit {
		if _, known := ProviderDefaults[provider]; !known {
			return fmt.Errorf("resilience.rate_limit: unknown provider %q", provider)
		}
		if limits.TokensPerMinute < 0 || limits.MaxConcurrency < 0 {
			return fmt.Errorf("resilience.rate_limit.%s: limits must not be negative", provider)
		}
	}
	if config.Resilience.Timeout < 0 {
		return fmt.Errorf("resilience.timeout must not be negative")
	}
	return nil
}
