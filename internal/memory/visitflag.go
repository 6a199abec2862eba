package memory

import (
	"fmt"
	"os"
	"path/filepath"
)

// VisitFlag persists a single "the user has been here before" boolean as a
// marker file. It decides between the fixed first-visit greeting and a
// generated one.
type VisitFlag struct {
	path string
}

func NewVisitFlag(path string) *VisitFlag {
	return &VisitFlag{path: path}
}

// Seen reports whether the flag has been set.
func (v *VisitFlag) Seen() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// Mark sets the flag, creating parent directories as needed. Idempotent.
func (v *VisitFlag) Mark() error {
	if dir := filepath.Dir(v.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create flag dir: %w", err)
		}
	}
	f, err := os.OpenFile(v.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write visit flag: %w", err)
	}
	return f.Close()
}
