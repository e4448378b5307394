package storage

import (
	"bytes"
	"errors"
	"io"
	"time"
)

var ErrNoPublicUrl = errors.New("Storage has no public URL for this object")
var ErrNotFound = errors.New("Object not found")

// Storage is an abstraction of a blob store (eg GCS, or a local directory)
type Storage interface {
	// When finished, you must close the WriteCloser
	WriteFile(name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader
	ReadFile(name string) (*File, error)

	DeleteFile(name string) error

	// Return a URL that a client can fetch the object from directly, or ErrNoPublicUrl
	URL(name string) (string, error)
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

func WriteFile(s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func WriteBytes(s Storage, name string, content []byte) error {
	return WriteFile(s, name, bytes.NewReader(content))
}

func ReadFile(s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}

// ReadFirst returns the content of the first of names that exists, and the name that was found.
// If none exist, the error from the last attempt is returned.
func ReadFirst(s Storage, names []string) ([]byte, string, error) {
	var lastErr error
	for _, name := range names {
		b, err := ReadFile(s, name)
		if err == nil {
			return b, name, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("No candidate names")
	}
	return nil, "", lastErr
}
