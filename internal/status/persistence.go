// Package status provides load status tracking and persistence for the refreshed tables.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

//go:generate mockgen -destination=mocks/mock_status_persistence.go -package=mocks -source=persistence.go StatusPersistence

const (
	// StatusFileName is the name of the per-table status file
	StatusFileName = "status.json"
)

// StatusPersistence defines the interface for table status persistence
//
//nolint:revive // This name is fine
type StatusPersistence interface {
	// SaveStatus saves the status of a specific table
	SaveStatus(ctx context.Context, table string, status *TableStatus) error

	// LoadStatus loads the status of a specific table
	// Returns an empty TableStatus if the table was never attempted
	LoadStatus(ctx context.Context, table string) (*TableStatus, error)

	// LoadAllStatus loads the status of every table that was ever attempted
	LoadAllStatus(ctx context.Context) (map[string]*TableStatus, error)
}

// fileStatusPersistence implements StatusPersistence using local filesystem
type fileStatusPersistence struct {
	basePath string
}

// NewFileStatusPersistence creates a new file-based status persistence
// basePath is the base directory where per-table status files will be stored
func NewFileStatusPersistence(basePath string) StatusPersistence {
	return &fileStatusPersistence{
		basePath: basePath,
	}
}

// SaveStatus saves the status to a JSON file in a table-specific directory
func (f *fileStatusPersistence) SaveStatus(_ context.Context, table string, status *TableStatus) error {
	if !filepath.IsLocal(table) {
		return fmt.Errorf("invalid table name '%s'", table)
	}

	tableDir := filepath.Join(f.basePath, table)
	if err := os.MkdirAll(tableDir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for table '%s': %w", table, err)
	}

	filePath := filepath.Join(tableDir, StatusFileName)

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status data for table '%s': %w", table, err)
	}

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file for table '%s': %w", table, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file for table '%s': %w", table, err)
	}

	return nil
}

// LoadStatus loads the status from the JSON file of a specific table
// Returns an empty TableStatus if the file doesn't exist
func (f *fileStatusPersistence) LoadStatus(_ context.Context, table string) (*TableStatus, error) {
	if !filepath.IsLocal(table) {
		return nil, fmt.Errorf("invalid table name '%s'", table)
	}

	filePath := filepath.Join(f.basePath, table, StatusFileName)

	// #nosec G304 -- filePath is basePath plus a local table identifier
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &TableStatus{}, nil
		}
		return nil, fmt.Errorf("failed to read status file for table '%s': %w", table, err)
	}

	var status TableStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status data for table '%s': %w", table, err)
	}

	return &status, nil
}

// LoadAllStatus loads the status of every table directory under the base path
func (f *fileStatusPersistence) LoadAllStatus(ctx context.Context) (map[string]*TableStatus, error) {
	result := make(map[string]*TableStatus)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		table := entry.Name()
		status, err := f.LoadStatus(ctx, table)
		if err != nil {
			// Partial results are more useful than none
			continue
		}

		result[table] = status
	}

	return result, nil
}
