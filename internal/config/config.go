// Package config loads the YAML configuration shared by fitsctl and fitsd.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/fitsgate/internal/common"
	"example.com/fitsgate/internal/fits"
)

type Config struct {
	// Encoding is used when neither a command flag nor the header's BITPIX
	// selects one.
	Encoding        string           `yaml:"encoding"`
	MaxHeaderBlocks int              `yaml:"maxHeaderBlocks"`
	Port            int              `yaml:"port"`
	StorageDir      string           `yaml:"storageDir"`
	Catalog         string           `yaml:"catalog"`
	MaxUploadMB     int              `yaml:"maxUploadMB"`
	Logs            common.LogConfig `yaml:"logs"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads path and fills in defaults. Relative paths are resolved against
// the directory holding the config file when that location exists.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	cfg, err := decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	baseDir := filepath.Dir(path)
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		candidate := filepath.Clean(filepath.Join(baseDir, p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return filepath.Clean(p)
	}
	cfg.StorageDir = resolvePath(cfg.StorageDir)
	cfg.Catalog = resolvePath(cfg.Catalog)
	cfg.Logs.Directory = resolvePath(cfg.Logs.Directory)
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func decode(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Encoding == "" {
		c.Encoding = fits.DefaultEncoding.String()
	}
	if c.MaxHeaderBlocks <= 0 {
		c.MaxHeaderBlocks = fits.DefaultMaxHeaderBlocks
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.StorageDir == "" {
		c.StorageDir = filepath.Join(".", "data")
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 512
	}
	if c.Logs.Directory == "" {
		c.Logs.Directory = filepath.Join(c.StorageDir, "logs")
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
}

// Validate checks values that defaults cannot repair.
func (c Config) Validate() error {
	if _, err := c.DefaultEncoding(); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

// DefaultEncoding parses the configured fallback encoding.
func (c Config) DefaultEncoding() (fits.Encoding, error) {
	enc, err := fits.ParseEncoding(c.Encoding)
	if err != nil {
		return fits.EncodingUnset, fmt.Errorf("config encoding: %w", err)
	}
	if enc == fits.EncodingUnset {
		return fits.DefaultEncoding, nil
	}
	return enc, nil
}

// ReadOptions returns the parser options implied by the configuration.
func (c Config) ReadOptions(m *common.Metrics) fits.ReadOptions {
	return fits.ReadOptions{MaxHeaderBlocks: c.MaxHeaderBlocks, Metrics: m}
}
