package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MARKWATCH_"

const maxConfigFileSize = 1024 * 1024

// Load reads configuration from path (optional), then applies environment
// overrides.
//
// Precedence, highest first:
//  1. Environment variables (MARKWATCH_WIKI_API_URL, MARKWATCH_LEDGER_PAGE, ...)
//  2. The YAML file at path
//  3. Defaults
//
// Environment names map to keys by splitting on the first underscore
// after the prefix:
//
//	MARKWATCH_WIKI_API_URL          -> wiki.api_url
//	MARKWATCH_REMINDER_STRIP_OVERDUE -> reminder.strip_overdue
//	MARKWATCH_MARKER_NAMESPACES=0,2  -> marker.namespaces [0 2]
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s too large: %d bytes (max %d)", path, info.Size(), maxConfigFileSize)
		}
		content, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return load(content)
}

func load(content []byte) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps MARKWATCH_SECTION_FIELD_NAME to section.field_name. List
// valued keys are split on commas.
func envKey(name, value string) (string, any) {
	lower := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower, value
	}
	key := section + "." + field

	if key == "marker.namespaces" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return key, parts
	}
	return key, value
}
