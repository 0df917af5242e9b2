package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

type FSStore struct{ base string }

func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "./data/images"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{base: base}, nil
}

// clean reduces a requested name to its basename so a crafted name can
// never escape the image directory.
func clean(name string) string {
	return filepath.Base(filepath.Clean(name))
}

func (s *FSStore) Open(name string) (io.ReadCloser, error) {
	if name == "" {
		return nil, errors.New("empty name")
	}
	return os.Open(filepath.Join(s.base, clean(name)))
}

func (s *FSStore) Put(name string, r io.Reader) (string, error) {
	if name == "" {
		return "", errors.New("empty name")
	}
	name = clean(name)
	f, err := os.Create(filepath.Join(s.base, name))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return name, nil
}
