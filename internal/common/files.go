package common

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

func Sha256OfFile(path string) (string, int64, error) {
	return hashFile(path, sha256.New())
}

// Blake3OfFile returns the 256-bit BLAKE3 digest of the file in hex.
func Blake3OfFile(path string) (string, int64, error) {
	return hashFile(path, blake3.New())
}

// Digests holds both content digests recorded for a FITS file.
type Digests struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
	Size   int64  `json:"size"`
}

// DigestFile computes SHA-256 and BLAKE3 in a single pass over path.
func DigestFile(path string) (Digests, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digests{}, err
	}
	defer f.Close()
	sh := sha256.New()
	b3 := blake3.New()
	n, err := io.Copy(io.MultiWriter(sh, b3), f)
	if err != nil {
		return Digests{}, err
	}
	return Digests{
		SHA256: hex.EncodeToString(sh.Sum(nil)),
		BLAKE3: hex.EncodeToString(b3.Sum(nil)),
		Size:   n,
	}, nil
}

// Blake3Hex hashes an in-memory buffer.
func Blake3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hashFile(path string, h hash.Hash) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), n, nil
}
