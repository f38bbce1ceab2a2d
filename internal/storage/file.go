package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/coachpo/trolley/errs"
)

// File is a Store backed by a single JSON document on disk. Writes are
// atomic: the document is rewritten to a temp file and renamed over the
// original, so a crash mid-write never corrupts the stored identity.
type File struct {
	path string

	mu   sync.Mutex
	data map[string]string
}

// NewFile opens (or creates) the document at path. A missing file is an empty
// store; an unreadable or corrupt one is a storage failure.
func NewFile(path string) (*File, error) {
	f := &File{path: path, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, errs.New("storage/file", errs.CodeStorage,
			errs.WithMessage("read store document"), errs.WithCause(err))
	}

	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		return nil, errs.New("storage/file", errs.CodeStorage,
			errs.WithMessage("decode store document"), errs.WithCause(err))
	}
	return f, nil
}

// Get returns the stored value for key.
func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

// Set stores value under key and flushes the document.
func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.data[key]
	f.data[key] = value
	if err := f.flushLocked(); err != nil {
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

// Remove deletes key and flushes the document.
func (f *File) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.data[key]
	if !had {
		return nil
	}
	delete(f.data, key)
	if err := f.flushLocked(); err != nil {
		f.data[key] = prev
		return err
	}
	return nil
}

func (f *File) flushLocked() error {
	raw, err := json.Marshal(f.data)
	if err != nil {
		return errs.New("storage/file", errs.CodeStorage,
			errs.WithMessage("encode store document"), errs.WithCause(err))
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New("storage/file", errs.CodeStorage,
			errs.WithMessage("create store directory"), errs.WithCause(err))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*")
	if err != nil {
		return errs.New("storage/file", errs.CodeStorage,
			errs.WithMessage("create temp document"), errs.WithCause(err))
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.New("storage/file", errs.CodeStorage,
			errs.WithMessage("write temp document"), errs.WithCause(err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.New("storage/file", errs.CodeStorage,
			errs.WithMessage("close temp document"), errs.WithCause(err))
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return errs.New("storage/file", errs.CodeStorage,
			errs.WithMessage("replace store document"), errs.WithCause(err))
	}
	return nil
}
