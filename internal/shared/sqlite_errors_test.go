package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/store"
)

func TestClassifyStorageError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: StorageErrorNone},
		{name: "not found", err: fmt.Errorf("append: %w", store.ErrChatNotFound), want: StorageErrorNotFound},
		{name: "timeout", err: fmt.Errorf("insert: %w", context.DeadlineExceeded), want: StorageErrorTimeout},
		{name: "busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: StorageErrorBusy},
		{name: "other", err: errors.New("disk full"), want: StorageErrorOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStorageError(tt.err); got != tt.want {
				t.Errorf("ClassifyStorageError() = %q, want %q", got, tt.want)
			}
		})
	}
}
