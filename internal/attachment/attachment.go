// Package attachment reads uploaded attachment files by storage path.
package attachment

import (
	"context"
	"errors"
)

// Attachment errors
var (
	ErrNotFound    = errors.New("attachment: file not found")
	ErrInvalidPath = errors.New("attachment: invalid storage path")
	ErrTooLarge    = errors.New("attachment: file exceeds size limit")
)

// MaxSize is the largest attachment that will be read. Gmail rejects
// messages above 25MB after encoding.
const MaxSize = 18 << 20

// Reader loads attachment bytes from storage
type Reader interface {
	ReadBytes(ctx context.Context, storagePath string) ([]byte, error)
}
