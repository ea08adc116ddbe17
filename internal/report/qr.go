package report

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DigestToQR creates a QR code PNG encoding the provided hex digest.
func DigestToQR(digest string, size int) ([]byte, error) {
	normalized := sanitizeHex(digest)
	if normalized == "" {
		return nil, fmt.Errorf("digest is empty")
	}
	if size <= 0 {
		size = 128
	}
	return qrcode.Encode(normalized, qrcode.Medium, size)
}

func sanitizeHex(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			b.WriteRune(r)
		}
	}
	return b.String()
}
