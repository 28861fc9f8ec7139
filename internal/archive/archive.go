// SPDX-License-Identifier: MPL-2.0

// Package archive unpacks the distribution formats found on package
// indexes: gzip and bzip2 tarballs, plain tar, and the zip family (.zip,
// .whl, .egg). Extraction is hardened for untrusted input: entry paths are
// confined to the destination, symlinks and device nodes are dropped, and
// owner read/write access is forced so the tree can be traversed and
// cleaned up regardless of what the archive declared.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrUnsupportedFormat is the sentinel error wrapped by UnsupportedFormatError.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// ErrUnsafePath is returned when an archive entry would escape the
// destination directory.
var ErrUnsafePath = errors.New("unsafe path in archive")

// UnsupportedFormatError is returned when a file's extension does not match
// a known distribution format. It wraps ErrUnsupportedFormat.
type UnsupportedFormatError struct {
	Name string
}

// Error implements the error interface.
func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported archive format: %q (supported: .tar.gz, .tgz, .tar.bz2, .tar, .zip, .whl, .egg)", e.Name)
}

// Unwrap returns ErrUnsupportedFormat for errors.Is detection.
func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }

// Owner bits forced on extracted entries; archives routinely carry
// read-only or zero modes.
const (
	ownerFileBits fs.FileMode = 0o600
	ownerDirBits  fs.FileMode = 0o700
)

// Extract unpacks the archive at path into dest and returns the root of the
// extracted source tree. When the archive contains exactly one top-level
// directory (the sdist convention), that directory is returned; otherwise
// dest itself is.
func Extract(path, dest string) (string, error) {
	if err := extractInto(path, dest); err != nil {
		return "", err
	}
	return collapseRoot(dest)
}

func extractInto(path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch {
	case hasSuffix(path, ".tar.gz"), hasSuffix(path, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip stream in %s: %w", path, err)
		}
		defer gz.Close()
		return untar(gz, dest)
	case hasSuffix(path, ".tar.bz2"):
		return untar(bzip2.NewReader(f), dest)
	case hasSuffix(path, ".tar"):
		return untar(f, dest)
	case hasSuffix(path, ".zip"), hasSuffix(path, ".whl"), hasSuffix(path, ".egg"):
		info, err := f.Stat()
		if err != nil {
			return err
		}
		return unzip(f, info.Size(), dest)
	default:
		return &UnsupportedFormatError{Name: filepath.Base(path)}
	}
}

func hasSuffix(path, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(path), suffix)
}

// knownSuffixes in match order: the compound tar suffixes must be tried
// before their plain prefixes.
var knownSuffixes = []string{".tar.gz", ".tgz", ".tar.bz2", ".tar", ".zip", ".whl", ".egg"}

// StripSuffix returns an archive file name with its recognized format
// suffix removed, e.g. "demo-1.0.tar.gz" becomes "demo-1.0". Unrecognized
// names are returned unchanged.
func StripSuffix(name string) string {
	for _, suffix := range knownSuffixes {
		if hasSuffix(name, suffix) {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}

func untar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()|ownerDirBits); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// Symlinks, hardlinks, devices: dropped. Nothing a build
			// script legitimately needs survives only as a link.
		}
	}
}

func unzip(r io.ReaderAt, size int64, dest string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("open zip archive: %w", err)
	}

	for _, entry := range zr.File {
		target, err := safeJoin(dest, entry.Name)
		if err != nil {
			return err
		}

		mode := entry.Mode()
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, mode.Perm()|ownerDirBits); err != nil {
				return err
			}
			continue
		}
		if !mode.IsRegular() {
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", entry.Name, err)
		}
		err = writeEntry(target, rc, mode.Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// safeJoin resolves an archive entry name inside dest, rejecting absolute
// names and any ".." traversal.
func safeJoin(dest, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(dest, cleaned), nil
}

func writeEntry(target string, r io.Reader, perm fs.FileMode) error {
	// Tarballs may omit directory entries for parents.
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|ownerFileBits)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}

// collapseRoot descends into dest's single top-level directory when there is
// exactly one, which is how sdists and most zips are laid out.
func collapseRoot(dest string) (string, error) {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dest, entries[0].Name()), nil
	}
	return dest, nil
}
