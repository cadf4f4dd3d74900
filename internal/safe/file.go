// Package safe wraps file reads of user-controlled paths with size and
// file-type validation.
package safe

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultMaxFileSize caps reads when ReadOptions.MaxSize is zero (1MB).
const DefaultMaxFileSize = 1 << 20

// ReadOptions configures the behavior of ReadFile.
type ReadOptions struct {
	// MaxSize is the maximum allowed file size in bytes. Zero means
	// DefaultMaxFileSize.
	MaxSize int64
	// AllowSymlinks permits reading through a symlink path. Off by
	// default: identity and config paths are attacker-influenced inputs.
	AllowSymlinks bool
}

// ReadFile reads path after validating that it names a regular file
// within the size cap. Symlinks are rejected unless opts allows them.
// A missing file surfaces as the unwrapped stat error so callers can
// test it with os.IsNotExist.
func ReadFile(path string, opts *ReadOptions) ([]byte, error) {
	if opts == nil {
		opts = &ReadOptions{}
	}
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}

	clean := filepath.Clean(path)

	// Lstat so a symlink shows up as itself, not its target.
	info, err := os.Lstat(clean)
	if err != nil {
		return nil, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if !opts.AllowSymlinks {
			return nil, fmt.Errorf("refusing to read symlink %q", path)
		}
		if info, err = os.Stat(clean); err != nil {
			return nil, err
		}
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%q is not a regular file", path)
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("%q exceeds the %d byte read limit", path, maxSize)
	}

	return os.ReadFile(clean)
}
