package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultJournalPath names an export file under results/ by timestamp
func DefaultJournalPath(now time.Time) string {
	return filepath.Join("results", fmt.Sprintf("journal_%s.xlsx", now.UTC().Format("20060102_150405")))
}

// ensureDir creates the parent directory of path
func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
