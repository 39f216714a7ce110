// Package receipts holds what the receipt store backends share.
package receipts

import (
	"errors"
	"path/filepath"
	"strings"
)

// MaxSize is the largest receipt accepted by any backend.
const MaxSize = 10 << 20

var (
	ErrEmpty        = errors.New("receipt is empty")
	ErrTooLarge     = errors.New("receipt exceeds 10 MiB")
	ErrForeignRef   = errors.New("receipt reference belongs to another store")
	ErrMalformedRef = errors.New("malformed receipt reference")
)

// CheckSize rejects empty or oversized attachments.
func CheckSize(data []byte) error {
	switch {
	case len(data) == 0:
		return ErrEmpty
	case len(data) > MaxSize:
		return ErrTooLarge
	}
	return nil
}

// Extension returns a safe lowercase extension taken from filename, or "".
func Extension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// SplitRef returns the id of a "<scheme>:<id>" reference.
func SplitRef(ref, scheme string) (string, error) {
	prefix := scheme + ":"
	if !strings.HasPrefix(ref, prefix) {
		return "", ErrForeignRef
	}
	id := ref[len(prefix):]
	if id == "" {
		return "", ErrMalformedRef
	}
	return id, nil
}
