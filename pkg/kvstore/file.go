package kvstore

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
)

// FileStore persists each key as a file under a root directory. Writes go
// through a temp file, fsync, and an atomic rename, so a value is either
// fully present or absent after a crash; Set never reports success before
// the bytes are on disk.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed and returns a store
// backed by it.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.Join(ErrWriteFailed, errors.New("root directory cannot be empty"))
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, errors.Join(ErrWriteFailed, err)
	}
	return &FileStore{root: root}, nil
}

// path maps a key to a filename. Keys are hex-encoded so arbitrary ids
// (slashes, dots) cannot escape the root directory.
func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, hex.EncodeToString([]byte(key)))
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrWriteFailed, err)
	}

	target := s.path(key)

	tmp, err := os.CreateTemp(s.root, ".write-*")
	if err != nil {
		return errors.Join(ErrWriteFailed, err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(value); err != nil {
		cleanup()
		return errors.Join(ErrWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Join(ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Join(ErrWriteFailed, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return errors.Join(ErrWriteFailed, err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
