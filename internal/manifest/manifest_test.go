package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"example.com/fitsgate/internal/fits"
)

func TestBuildSaveLoadCheck(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "a.fits")
	if _, err := fits.EncodeFile(image, []byte{1, 2, 3, 4}, 2, 2, fits.Uint8, nil); err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}
	broken := filepath.Join(dir, "b.fit")
	if err := os.WriteFile(broken, []byte("not fits"), 0o644); err != nil {
		t.Fatal(err)
	}
	sidecar := filepath.Join(dir, "a.yaml")
	if err := os.WriteFile(sidecar, []byte("OBJECT: M31\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Build([]string{image, broken, sidecar})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(m.Items) != 3 {
		t.Fatalf("items = %d", len(m.Items))
	}
	if it := m.Items[0]; it.Type != "fits" || it.HDUs != 1 || it.Error != "" || it.Size != 2*fits.BlockSize {
		t.Fatalf("fits item %+v", it)
	}
	if it := m.Items[1]; it.Type != "fits" || it.Error == "" {
		t.Fatalf("broken item %+v", it)
	}
	if it := m.Items[2]; it.Type != "yaml" || len(it.Blake3) != 64 || len(it.Sha256) != 64 {
		t.Fatalf("yaml item %+v", it)
	}

	out := filepath.Join(dir, "manifest.json")
	if err := Save(m, out); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := Check(loaded); len(got) != 0 {
		t.Fatalf("unexpected mismatches %v", got)
	}

	if err := os.WriteFile(sidecar, []byte("OBJECT: M33\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(broken); err != nil {
		t.Fatal(err)
	}
	got := Check(loaded)
	if len(got) != 2 || got[0].Path != broken || got[1].Path != sidecar {
		t.Fatalf("mismatches %v", got)
	}
}

func TestBuildMissingFile(t *testing.T) {
	if _, err := Build([]string{filepath.Join(t.TempDir(), "nope.fits")}); err == nil {
		t.Fatalf("expected error")
	}
}
