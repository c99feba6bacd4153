// Package filesystem provides the publish and verification helpers shared by
// the mirror, status and XML stages.
package filesystem

import (
	"bytes"
	"crypto/md5" //nolint:gosec // OBS identifies files by md5
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteAtomic writes content to path.new and renames it over path.
func WriteAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".new"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// WriteIfChanged publishes content at path unless the existing file is
// byte-identical. It reports whether path was rewritten. The temporary file
// is named path.tmp.
func WriteIfChanged(path string, content []byte) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteFile removes a file if it exists.
func DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// FileExists reports whether the given path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// FileMD5 returns the hex md5 of the file at path.
func FileMD5(path string) (string, error) {
	//nolint:gosec // G304: path is inside the mirror tree
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile ensures the file exists and its md5 matches the expected hash.
func VerifyFile(path, expectedMD5 string) (bool, error) {
	if !FileExists(path) {
		return false, nil
	}

	actual, err := FileMD5(path)
	if err != nil {
		return false, err
	}
	return actual == expectedMD5, nil
}

// SubDirs lists the names of the directories directly below dir. A missing
// dir yields no names.
func SubDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// RemoveAll deletes dir recursively; a missing dir is not an error.
func RemoveAll(dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return os.RemoveAll(dir)
}

// MaxMtime returns the newest modification time (unix seconds) of the regular
// files directly inside dir, or -1 when there are none.
func MaxMtime(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return -1, nil
		}
		return -1, err
	}

	latest := int64(-1)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return -1, err
		}
		if m := info.ModTime().Unix(); m > latest {
			latest = m
		}
	}
	return latest, nil
}
