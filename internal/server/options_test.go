package server

import (
	"errors"
	"path/filepath"
	"testing"

	"example.com/fitsgate/internal/config"
	"example.com/fitsgate/internal/fits"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Encoding = "int16"
	cfg.MaxUploadMB = 2
	cfg.StorageDir = t.TempDir()
	opts, err := OptionsFromConfig(cfg, nil, nil)
	if err != nil {
		t.Fatalf("OptionsFromConfig: %v", err)
	}
	if opts.DefaultEncoding != fits.Int16 || opts.MaxUploadBytes != 2<<20 || opts.StorageDir != cfg.StorageDir {
		t.Fatalf("options %+v", opts)
	}
	if opts.MaxHeaderBlocks != cfg.MaxHeaderBlocks {
		t.Fatalf("max header blocks %d, want %d", opts.MaxHeaderBlocks, cfg.MaxHeaderBlocks)
	}

	cfg.Encoding = "complex"
	if _, err := OptionsFromConfig(cfg, nil, nil); !errors.Is(err, fits.ErrUnsupportedEncoding) {
		t.Fatalf("expected unsupported encoding, got %v", err)
	}
}

func TestOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      Options
		wantErr bool
		check   func(t *testing.T, o Options)
	}{
		{
			name: "defaults",
			in:   Options{},
			check: func(t *testing.T, o Options) {
				if o.MaxUploadBytes != defaultMaxUploadBytes || o.DefaultEncoding != fits.DefaultEncoding {
					t.Fatalf("defaults not applied: %+v", o)
				}
				if !filepath.IsAbs(o.StorageDir) {
					t.Fatalf("storage dir %q not absolute", o.StorageDir)
				}
			},
		},
		{
			name: "relative storage",
			in:   Options{StorageDir: "data"},
			check: func(t *testing.T, o Options) {
				if !filepath.IsAbs(o.StorageDir) || filepath.Base(o.StorageDir) != "data" {
					t.Fatalf("storage dir %q", o.StorageDir)
				}
			},
		},
		{name: "bad encoding", in: Options{DefaultEncoding: fits.Encoding(12)}, wantErr: true},
		{name: "negative blocks", in: Options{MaxHeaderBlocks: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			tt.check(t, got)
		})
	}
}
