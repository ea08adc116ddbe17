package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/fitsgate/internal/common"
	"example.com/fitsgate/internal/fits"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Blake3 string `json:"blake3"`
	Type   string `json:"type"`
	HDUs   int    `json:"hdus,omitempty"`
	// Error holds the parse failure for FITS items that do not verify.
	Error string `json:"error,omitempty"`
}

type Manifest struct {
	CreatedAt time.Time `json:"createdAt"`
	ShaAlgo   string    `json:"shaAlgo"`
	Items     []Item    `json:"items"`
}

// Build digests every path. FITS files are also parsed so the manifest
// records their HDU count or the reason they are unreadable.
func Build(paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256+blake3"}
	for _, p := range paths {
		d, err := common.DigestFile(p)
		if err != nil {
			return m, err
		}
		item := Item{Path: p, Size: d.Size, Sha256: d.SHA256, Blake3: d.BLAKE3, Type: typeOf(p)}
		if item.Type == "fits" {
			hdus, err := fits.ReadFile(p, fits.ReadOptions{})
			if err != nil {
				item.Error = err.Error()
			} else {
				item.HDUs = len(hdus)
			}
		}
		m.Items = append(m.Items, item)
	}
	return m, nil
}

func typeOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		return "fits"
	case ".yaml", ".yml":
		return "yaml"
	case ".jsonl":
		return "jsonl"
	case ".json":
		return "json"
	case ".pdf":
		return "pdf"
	}
	return "other"
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Mismatch describes an item whose file no longer matches the manifest.
type Mismatch struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Check re-digests every item and reports the ones that changed or vanished.
func Check(m Manifest) []Mismatch {
	var out []Mismatch
	for _, item := range m.Items {
		d, err := common.DigestFile(item.Path)
		switch {
		case err != nil:
			out = append(out, Mismatch{Path: item.Path, Reason: err.Error()})
		case d.Size != item.Size:
			out = append(out, Mismatch{Path: item.Path, Reason: fmt.Sprintf("size %d, manifest says %d", d.Size, item.Size)})
		case d.SHA256 != item.Sha256:
			out = append(out, Mismatch{Path: item.Path, Reason: "sha256 differs"})
		case item.Blake3 != "" && d.BLAKE3 != item.Blake3:
			out = append(out, Mismatch{Path: item.Path, Reason: "blake3 differs"})
		}
	}
	return out
}
