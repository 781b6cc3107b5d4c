package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024

// Load builds the configuration from defaults, an optional YAML file, and
// environment variable overrides.
//
// Precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, NATS_URL, PROVIDERS_ANTHROPIC_API_KEY, ...)
//  2. YAML config file
//  3. Defaults
//
// An empty configPath skips the file layer. Environment variables map to
// config keys by lowercasing and splitting on underscores: the first
// segment is the section, the second (when the section has nested
// sections, like providers) the subsection, and the rest the field name.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// subsections names the nested sections under each top-level section.
// Env keys split a second time only when the token after the section is
// one of these, so ORCHESTRATOR_INTENT_THRESHOLD stays a field while
// ORCHESTRATOR_ESCALATION_REPEAT_THRESHOLD descends a level.
var subsections = map[string][]string{
	"providers":    {"anthropic", "embeddings"},
	"orchestrator": {"escalation", "pool"},
	"swarm":        {"coordinator"},
}

// envKey maps SERVER_PORT to server.port and
// PROVIDERS_ANTHROPIC_API_KEY to providers.anthropic.api_key.
func envKey(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	section, rest := parts[0], parts[1]
	for _, sub := range subsections[section] {
		if strings.HasPrefix(rest, sub+"_") {
			return section + "." + sub + "." + rest[len(sub)+1:]
		}
	}
	return section + "." + rest
}

// readConfigFile opens and validates the config file on a single file
// descriptor to avoid a check-then-read race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm&0o077 != 0 {
			return nil, fmt.Errorf("config: insecure permissions %v on %s (want 0600 or 0400)", perm, path)
		}
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config: %s too large: %d bytes (max %d)", path, info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return content, nil
}
