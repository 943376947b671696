package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// SaveSnapshot writes a payload as JSON, via a temp file so a crash mid-write
// never leaves a truncated snapshot behind.
func SaveSnapshot(path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot back. A missing file is reported as
// os.ErrNotExist; a corrupt file as a decode error. Callers treat both as a
// cold start, not a failure.
func LoadSnapshot(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return nil
}
