// Package fileutil provides payload integrity helpers shared by the
// transport and CLI layers.
package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashFile returns the hex-encoded SHA256 digest of a file's contents along
// with its size in bytes.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// VerifyFile recomputes a file's SHA256 digest and compares it to the
// expected hex digest.
func VerifyFile(path, expected string) error {
	actual, _, err := HashFile(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("checksum mismatch for %s: have %s, want %s", path, actual, expected)
	}
	return nil
}
