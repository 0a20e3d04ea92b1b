package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Writer persists entity documents as JSON files. Writes go to a
// temporary file first and are renamed into place so an interrupted run
// never leaves a truncated document behind.
type Writer struct {
	// Incremental skips entities whose file on disk is newer than the
	// entity's updated_at timestamp.
	Incremental bool
}

func (w *Writer) WriteEntity(path string, entity any) error {
	var data []byte
	var err error
	switch v := entity.(type) {
	case json.RawMessage:
		var buf bytes.Buffer
		if err = json.Indent(&buf, v, "", "    "); err == nil {
			data = buf.Bytes()
		}
	default:
		data, err = json.MarshalIndent(v, "", "    ")
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".temp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ShouldSkip reports whether the file at path is already at least as
// new as updatedAt. Only meaningful in incremental mode.
func (w *Writer) ShouldSkip(path string, updatedAt time.Time) bool {
	if !w.Incremental || updatedAt.IsZero() {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.ModTime().Before(updatedAt)
}
