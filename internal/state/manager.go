// Package state provides persistent state management for the virtual filesystem.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"histfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("state")
)

// Manager handles loading and saving filesystem state
type Manager struct {
	statePath   string
	backupDir   string
	backupCount int
	mu          sync.Mutex
}

// NewManager creates a new state manager for the given state file path.
// It ensures the state directory exists and is writable.
func NewManager(statePath string) (*Manager, error) {
	logger.Debug("Creating new state manager with path: %s", statePath)

	absPath, err := filepath.Abs(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path %s: %w", statePath, err)
	}
	logger.Debug("Resolved state path: %s", absPath)

	// Create parent directory if it doesn't exist
	stateDir := filepath.Dir(absPath)
	logger.Debug("Ensuring state directory exists: %s", stateDir)
	if mkdirErr := os.MkdirAll(stateDir, 0755); mkdirErr != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, mkdirErr)
	}

	// Try to create an empty file to verify we have write permissions
	f, writeErr := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE, 0644)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to create state file %s: %w", absPath, writeErr)
	}
	f.Close()

	backupDir := filepath.Join(stateDir, ".histfs-backups")
	logger.Debug("Creating backup directory: %s", backupDir)
	if backupDirErr := os.MkdirAll(backupDir, 0755); backupDirErr != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, backupDirErr)
	}

	logger.Info("State manager initialization complete")
	return &Manager{
		statePath:   absPath,
		backupDir:   backupDir,
		backupCount: 5,
	}, nil
}

// Path returns the absolute path of the state file.
func (sm *Manager) Path() string {
	return sm.statePath
}

// LoadState loads the filesystem state from disk.
// An empty or missing state file yields a fresh, unbound profile.
func (sm *Manager) LoadState() (*FSState, error) {
	logger.Debug("Loading state from: %s", sm.statePath)
	sm.mu.Lock()
	defer sm.mu.Unlock()

	data, err := os.ReadFile(sm.statePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		logger.Info("No valid state file, starting a new profile")
		return &FSState{Version: CurrentVersion}, nil
	}

	logger.Debug("Parsing existing state file (%d bytes)", len(data))
	var state FSState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if state.Version > CurrentVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported version %d", state.Version, CurrentVersion)
	}

	logger.Info("State loaded successfully")
	return &state, nil
}

// SaveState saves the current filesystem state to disk.
// It automatically creates a backup before saving.
func (sm *Manager) SaveState(state *FSState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	logger.Debug("Saving state to: %s", sm.statePath)

	// Create backup before saving
	if backupErr := sm.createBackup(); backupErr != nil {
		logger.Warn("Failed to create backup: %v", backupErr)
		// Continue with save even if backup fails
	}

	// Marshal with indentation for readability
	data, marshalErr := json.MarshalIndent(state, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal state: %w", marshalErr)
	}

	tmpPath := sm.statePath + ".tmp"
	logger.Trace("Writing %d bytes of state data", len(data))
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, sm.statePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	// Verify the write
	written, verifyErr := os.ReadFile(sm.statePath)
	if verifyErr != nil {
		return fmt.Errorf("failed to verify written state: %w", verifyErr)
	}
	if len(written) == 0 {
		return fmt.Errorf("state file is empty after write")
	}

	logger.Debug("State saved and verified successfully")
	return nil
}

// createBackup creates a timestamped backup of the current state file
func (sm *Manager) createBackup() error {
	data, err := os.ReadFile(sm.statePath)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405.000000000")
	backupPath := filepath.Join(sm.backupDir, fmt.Sprintf("state-%s.json", timestamp))

	logger.Debug("Creating backup: %s", backupPath)
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return sm.cleanupOldBackups()
}

// cleanupOldBackups removes old backup files, keeping only the most recent ones
func (sm *Manager) cleanupOldBackups() error {
	entries, err := os.ReadDir(sm.backupDir)
	if err != nil {
		return err
	}

	// Names embed the timestamp, so lexical order is chronological.
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			backups = append(backups, filepath.Join(sm.backupDir, entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	// Remove old backups
	for i := sm.backupCount; i < len(backups); i++ {
		logger.Debug("Removing old backup: %s", backups[i])
		if err := os.Remove(backups[i]); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i], err)
		}
	}

	return nil
}

// Backups lists the backup files currently kept, newest first.
func (sm *Manager) Backups() ([]string, error) {
	entries, err := os.ReadDir(sm.backupDir)
	if err != nil {
		return nil, err
	}
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			backups = append(backups, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}
