package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *OperationError
		want string
	}{
		{
			name: "with id",
			err:  &OperationError{Op: "create_download", ID: 7, Err: ErrAlreadyExists},
			want: "create_download for download 7: download already exists",
		},
		{
			name: "bulk",
			err:  &OperationError{Op: "remove_downloads", Err: errors.New("disk I/O error")},
			want: "remove_downloads: disk I/O error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestOperationError_Unwrap(t *testing.T) {
	err := fmt.Errorf("writing history: %w", &OperationError{Op: "update_download", ID: 1, Err: ErrNotFound})

	assert.ErrorIs(t, err, ErrNotFound)

	var opErr *OperationError
	if assert.ErrorAs(t, err, &opErr) {
		assert.Equal(t, "update_download", opErr.Op)
		assert.Equal(t, uint32(1), opErr.ID)
	}
}
