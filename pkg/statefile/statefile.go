// Package statefile implements the durability discipline shared by every
// persisted JSON state file: write to a sibling temp file, then atomically
// replace. A crash leaves either the previous file or the new file on disk,
// never a partial one.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// TimeLayout is the ISO-8601 timestamp format used in persisted JSON,
// without sub-second precision.
const TimeLayout = "2006-01-02T15:04:05"

// WriteJSON marshals v with indentation and atomically replaces path.
// The temp file is created in the same directory so the rename never
// crosses a filesystem boundary.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteBytes(path, data)
}

// WriteBytes atomically replaces path with data.
func WriteBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// LoadJSON reads path and unmarshals it over v. Callers pre-populate v with
// defaults; fields absent from the file keep their default values (the only
// schema-migration mechanism is this defaulted merge). A missing file is not
// an error.
func LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// AppendLine appends a single line to a log file, creating it if needed.
func AppendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

// Clamp3 clamps x to [0, 1] and rounds to three decimals, the canonical
// representation for every persisted score-like value.
func Clamp3(x float64) float64 {
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	return math.Round(x*1000) / 1000
}

// Stamp formats t in the persisted timestamp layout.
func Stamp(t time.Time) string {
	return t.Format(TimeLayout)
}
