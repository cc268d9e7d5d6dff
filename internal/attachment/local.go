package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalReader reads attachments from a directory on disk
type LocalReader struct {
	baseDir string
}

// NewLocalReader creates a LocalReader rooted at baseDir
func NewLocalReader(baseDir string) *LocalReader {
	return &LocalReader{baseDir: baseDir}
}

// ReadBytes reads the file at storagePath relative to the base directory
func (r *LocalReader) ReadBytes(ctx context.Context, storagePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full, err := r.resolve(storagePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("attachment: failed to open %s: %w", storagePath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("attachment: failed to read %s: %w", storagePath, err)
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, storagePath)
	}
	return data, nil
}

func (r *LocalReader) resolve(storagePath string) (string, error) {
	if storagePath == "" {
		return "", ErrInvalidPath
	}
	clean := filepath.Clean("/" + filepath.ToSlash(storagePath))
	full := filepath.Join(r.baseDir, clean)
	base := filepath.Clean(r.baseDir)
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, storagePath)
	}
	return full, nil
}
