package common

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditEntry records one header keyword changed in place on a FITS file.
// Before is nil when the keyword was appended.
type AuditEntry struct {
	File    string      `json:"file"`
	SHA256  string      `json:"sha256,omitempty"`
	Keyword string      `json:"keyword"`
	Before  interface{} `json:"before"`
	After   interface{} `json:"after"`
	Ts      time.Time   `json:"ts"`
}

// AuditLog provides append-only access to a JSONL audit log.
type AuditLog struct {
	path string
	mu   sync.Mutex
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

func (a *AuditLog) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

// Append writes entries as JSON objects, one per line, and syncs the file.
func (a *AuditLog) Append(entries ...AuditEntry) error {
	if a == nil {
		return errors.New("nil audit log")
	}
	var buf []byte
	for _, entry := range entries {
		if entry.Keyword == "" {
			return errors.New("audit entry missing keyword")
		}
		if entry.Ts.IsZero() {
			entry.Ts = time.Now().UTC()
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	if len(buf) == 0 {
		return nil
	}
	dir := filepath.Dir(a.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return err
	}
	return f.Sync()
}

// ReadAuditLog loads every entry from the supplied JSONL file.
func ReadAuditLog(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var entries []AuditEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
