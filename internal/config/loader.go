package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	pkgconfig "github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RPCURLEnv overrides pipeline.rpc_url so endpoints carrying API keys stay out of config files.
const RPCURLEnv = "CHAINPROJECTOR_RPC_URL"

type decodeFunc func(data []byte, cfg *pkgconfig.Config) error

// decoders maps a file extension to its format name and decoder.
var decoders = map[string]struct {
	format string
	decode decodeFunc
}{
	".yaml": {"YAML", decodeYAML},
	".yml":  {"YAML", decodeYAML},
	".json": {"JSON", decodeJSON},
	".toml": {"TOML", decodeTOML},
}

// LoadFromFile reads the config file at path, choosing the format from its extension.
// A .env file in the same directory is loaded first; variables already set win over it.
// The result has environment overrides and defaults applied and is validated.
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	dec, ok := decoders[ext]
	if !ok {
		exts := make([]string, 0, len(decoders))
		for e := range decoders {
			exts = append(exts, e)
		}
		slices.Sort(exts)
		return nil, fmt.Errorf("unsupported config file format %q (supported: %s)", ext, strings.Join(exts, ", "))
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &pkgconfig.Config{}
	if err := dec.decode(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s config: %w", dec.format, err)
	}

	if url := strings.TrimSpace(os.Getenv(RPCURLEnv)); url != "" {
		cfg.Pipeline.RPCURL = url
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *pkgconfig.Config) error {
	return yaml.Unmarshal(data, cfg)
}

// decodeJSON rejects unknown keys, which usually are misspelled options.
func decodeJSON(data []byte, cfg *pkgconfig.Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

func decodeTOML(data []byte, cfg *pkgconfig.Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
