// Package checksum computes the content hashes recorded in the manifest.
//
// Hashes are lowercase hex MD5 digests of the raw file bytes. MD5 keeps
// manifests compatible with the ones already published by the package; it is
// used for change detection only, never as a security boundary.
package checksum

import (
	"crypto/md5" //nolint:gosec // change detection, not security
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// File returns the checksum of the file at path
func File(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	return Reader(f)
}

// Reader returns the checksum of everything read from r
func Reader(r io.Reader) (string, error) {
	h := md5.New() //nolint:gosec // change detection, not security
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the checksum of data
func Bytes(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // change detection, not security
	return hex.EncodeToString(sum[:])
}
