package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"example.com/fitsgate/internal/catalog"
	"example.com/fitsgate/internal/common"
	"example.com/fitsgate/internal/config"
	"example.com/fitsgate/internal/fits"
)

const defaultMaxUploadBytes = 512 << 20

// Options configures server creation.
type Options struct {
	StorageDir      string
	MaxUploadBytes  int64
	DefaultEncoding fits.Encoding
	MaxHeaderBlocks int
	// Catalog is optional; without it /catalog answers 404.
	Catalog *catalog.Catalog
	Metrics *common.Metrics
}

// OptionsFromConfig maps the daemon configuration onto server options.
func OptionsFromConfig(cfg config.Config, cat *catalog.Catalog, m *common.Metrics) (Options, error) {
	enc, err := cfg.DefaultEncoding()
	if err != nil {
		return Options{}, err
	}
	return Options{
		StorageDir:      cfg.StorageDir,
		MaxUploadBytes:  int64(cfg.MaxUploadMB) << 20,
		DefaultEncoding: enc,
		MaxHeaderBlocks: cfg.MaxHeaderBlocks,
		Catalog:         cat,
		Metrics:         m,
	}, nil
}

// normalize fills zero values and resolves the storage directory.
func (o Options) normalize() (Options, error) {
	o.StorageDir = strings.TrimSpace(o.StorageDir)
	if o.StorageDir == "" {
		o.StorageDir = os.TempDir()
	}
	if !filepath.IsAbs(o.StorageDir) {
		abs, err := filepath.Abs(o.StorageDir)
		if err != nil {
			return o, fmt.Errorf("storage dir abs: %w", err)
		}
		o.StorageDir = abs
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = defaultMaxUploadBytes
	}
	if o.DefaultEncoding == fits.EncodingUnset {
		o.DefaultEncoding = fits.DefaultEncoding
	}
	if err := o.DefaultEncoding.Validate(); err != nil {
		return o, err
	}
	if o.MaxHeaderBlocks < 0 {
		return o, errors.New("max header blocks must not be negative")
	}
	return o, nil
}

func (o Options) readOptions() fits.ReadOptions {
	return fits.ReadOptions{MaxHeaderBlocks: o.MaxHeaderBlocks, Metrics: o.Metrics}
}
