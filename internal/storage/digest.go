package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// SHA256 computes the lowercase hex digest of a file, used for audit lineage.
func SHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
