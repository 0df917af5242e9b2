package storage

import "io"

// ImageStore serves case images to the API. Names are always bare
// filenames; implementations must not allow path traversal.
type ImageStore interface {
	Open(name string) (io.ReadCloser, error)
	Put(name string, r io.Reader) (string, error) // returns canonical name
}
