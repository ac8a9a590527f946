package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile records, inside the store root, when the checks last passed.
const MarkerFile = ".doctor-passed"

// MarkPassed writes the marker with the current time.
func MarkPassed(storeRoot string) error {
	if err := os.MkdirAll(storeRoot, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(storeRoot, MarkerFile), content, 0o644)
}

// ClearMarker removes the marker. A missing marker is not an error.
func ClearMarker(storeRoot string) error {
	err := os.Remove(filepath.Join(storeRoot, MarkerFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// LastPassed returns when the checks last passed, or the zero time.
func LastPassed(storeRoot string) time.Time {
	content, err := os.ReadFile(filepath.Join(storeRoot, MarkerFile))
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return time.Time{}
	}
	return t
}
