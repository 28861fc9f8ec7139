// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Permission bits granted to the owner on every copied entry, on top of
// whatever the source had. Archives frequently ship read-only or
// execute-less entries that would otherwise break traversal and cleanup.
const (
	ownerFileBits fs.FileMode = 0o600
	ownerDirBits  fs.FileMode = 0o700
)

// CopyTree copies the regular files and directories under src into dst,
// which must already exist and be empty. Owner read/write is forced on
// every file and owner read/write/traverse on every directory. Symlinks
// and other irregular entries are skipped: the copy is consumed by an
// untrusted script and must not reach outside its own root.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|ownerDirBits)
		case d.Type().IsRegular():
			return copyFile(path, target, d)
		default:
			// Symlink, device, fifo: not part of a source tree we run.
			return nil
		}
	})
}

func copyFile(src, dst string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm()|ownerFileBits)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
