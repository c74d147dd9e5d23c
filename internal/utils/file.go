package utils

import (
	"io/fs"
	"os"
	"path/filepath"
)

// TempPrefix marks in-progress files so directory listings can skip them.
const TempPrefix = "_placing-"

// WriteTemp writes data to a synced temp file in dir and returns its path.
func WriteTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, TempPrefix+"*.tmp")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// WriteFileAtomic writes data next to path and renames it over path, so
// readers see either the old content or the new one.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := WriteTemp(filepath.Dir(path), data)
	if err != nil {
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
