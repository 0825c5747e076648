// Package fingerprint computes stable content identities for dropped
// files. The SHA-256 of the file bytes is the identity the ledger uses
// for cross-run idempotence; size and mtime are recorded for audit.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const hashChunkSize = 8 * 1024 * 1024

// Fingerprint identifies a file's content at detection time.
// Immutable once computed.
type Fingerprint struct {
	Name       string
	Path       string // resolved absolute path
	SizeBytes  int64
	ModTimeUTC time.Time
	SHA256     string // lowercase hex
}

// File fingerprints the file at path. The hash streams the file in
// chunks so large extracts do not load into memory.
func File(path string) (Fingerprint, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("resolve %s: %w", path, err)
	}

	st, err := os.Stat(abs)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("stat %s: %w", abs, err)
	}

	sum, err := hashFile(abs)
	if err != nil {
		return Fingerprint{}, err
	}

	return Fingerprint{
		Name:       filepath.Base(abs),
		Path:       abs,
		SizeBytes:  st.Size(),
		ModTimeUTC: st.ModTime().UTC(),
		SHA256:     sum,
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, hashChunkSize)); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
