// Package localfs keeps receipts as files in a local directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"lexledger/internal/core"
	"lexledger/internal/receipts"
)

const scheme = "local"

type Store struct {
	dir string
}

var _ core.ReceiptStore = (*Store)(nil)

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("receipt directory is empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create receipt directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) StoreReceipt(ctx context.Context, r core.Receipt) (string, error) {
	if err := receipts.CheckSize(r.Data); err != nil {
		return "", &core.IOError{Op: "store", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return "", &core.IOError{Op: "store", Err: err}
	}

	name := uuid.NewString() + receipts.Extension(r.Filename)
	path := filepath.Join(s.dir, name)
	// Write to a temp file first so a crash never leaves a partial receipt.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, r.Data, 0o640); err != nil {
		return "", &core.IOError{Op: "store", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", &core.IOError{Op: "store", Err: err}
	}
	return scheme + ":" + name, nil
}

// DeleteReceipt removes the file behind ref. A missing file is not an error.
func (s *Store) DeleteReceipt(ctx context.Context, ref string) error {
	path, err := s.path(ref)
	if err != nil {
		return &core.IOError{Op: "delete", Ref: ref, Err: err}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &core.IOError{Op: "delete", Ref: ref, Err: err}
	}
	return nil
}

// Open returns the receipt contents.
func (s *Store) Open(ref string) ([]byte, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, &core.IOError{Op: "read", Ref: ref, Err: err}
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &core.NotFoundError{Resource: "receipt", ID: ref}
	}
	if err != nil {
		return nil, &core.IOError{Op: "read", Ref: ref, Err: err}
	}
	return b, nil
}

func (s *Store) path(ref string) (string, error) {
	name, err := receipts.SplitRef(ref, scheme)
	if err != nil {
		return "", err
	}
	if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", receipts.ErrMalformedRef
	}
	return filepath.Join(s.dir, name), nil
}
