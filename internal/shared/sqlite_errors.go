// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"errors"
	"strings"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/store"
)

// Storage failure classes used as log attributes and metric labels.
const (
	StorageErrorNone     = "none"
	StorageErrorBusy     = "busy"
	StorageErrorTimeout  = "timeout"
	StorageErrorNotFound = "chat_not_found"
	StorageErrorOther    = "other"
)

// IsSQLiteConflictError checks if the error is a SQLITE_BUSY or
// "database is locked" error. Both are SQLite concurrency errors.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// ClassifyStorageError maps a write error to a coarse failure class.
func ClassifyStorageError(err error) string {
	switch {
	case err == nil:
		return StorageErrorNone
	case errors.Is(err, store.ErrChatNotFound):
		return StorageErrorNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return StorageErrorTimeout
	case IsSQLiteConflictError(err):
		return StorageErrorBusy
	default:
		return StorageErrorOther
	}
}
