package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"example.com/fitsgate/internal/fits"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "port: 9090\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("port = %d", cfg.Port)
	}
	if cfg.MaxHeaderBlocks != fits.DefaultMaxHeaderBlocks {
		t.Fatalf("maxHeaderBlocks = %d", cfg.MaxHeaderBlocks)
	}
	enc, err := cfg.DefaultEncoding()
	if err != nil || enc != fits.Float32 {
		t.Fatalf("encoding = %v, %v", enc, err)
	}
	if cfg.Logs.Directory != filepath.Join(cfg.StorageDir, "logs") || cfg.Logs.MaxSizeMB != 25 {
		t.Fatalf("logs = %+v", cfg.Logs)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "store"), 0o755); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, dir, `
encoding: int16
storageDir: store
catalog: /var/lib/fitsgate/catalog.db
logs:
  maxBackups: 2
  compress: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageDir != filepath.Join(dir, "store") {
		t.Fatalf("storageDir = %q", cfg.StorageDir)
	}
	if cfg.Catalog != "/var/lib/fitsgate/catalog.db" {
		t.Fatalf("catalog = %q", cfg.Catalog)
	}
	if !cfg.Logs.Compress || cfg.Logs.MaxBackups != 2 {
		t.Fatalf("logs = %+v", cfg.Logs)
	}
	if enc, _ := cfg.DefaultEncoding(); enc != fits.Int16 {
		t.Fatalf("encoding = %v", enc)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"encoding":      "encoding: int64\n",
		"unknown field": "colour: blue\n",
		"port":          "port: 70000\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, t.TempDir(), body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	_, err := Load(writeConfig(t, t.TempDir(), "encoding: complex\n"))
	if !errors.Is(err, fits.ErrUnsupportedEncoding) {
		t.Fatalf("expected ErrUnsupportedEncoding, got %v", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("empty config %+v differs from defaults %+v", cfg, Default())
	}
}
