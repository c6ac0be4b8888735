package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore persists settings as a JSON document on local disk
type FileStore struct {
	mu       sync.Mutex
	filePath string
	defaults Settings
}

// NewFileStore creates a file-backed store. A missing file loads as defaults.
func NewFileStore(filePath string, defaults Settings) (*FileStore, error) {
	if filePath == "" {
		filePath = "autotrader_state.json"
	}

	dir := filepath.Dir(filePath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	return &FileStore{filePath: filePath, defaults: defaults.Clone()}, nil
}

// Path returns the state file location
func (f *FileStore) Path() string {
	return f.filePath
}

// Load reads the settings file
func (f *FileStore) Load(ctx context.Context) (*Settings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.read()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Update applies patch and rewrites the file
func (f *FileStore) Update(ctx context.Context, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.read()
	if err != nil {
		return err
	}
	return f.write(current.Apply(patch, time.Now().UTC()))
}

func (f *FileStore) read() (Settings, error) {
	data, err := os.ReadFile(f.filePath)
	if os.IsNotExist(err) {
		return f.defaults.Clone(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := validate(s); err != nil {
		return Settings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return s, nil
}

func (f *FileStore) write(s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	// Write to temporary file first
	tempFile := f.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary settings file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempFile, f.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to commit settings file: %w", err)
	}
	return nil
}

func validate(s Settings) error {
	if s.VirtualBalance < 0 {
		return fmt.Errorf("negative virtual balance: %.2f", s.VirtualBalance)
	}
	if s.Account.ActivePositions != len(s.OpenPositions) {
		return fmt.Errorf("active positions %d does not match %d stored positions",
			s.Account.ActivePositions, len(s.OpenPositions))
	}
	return nil
}
