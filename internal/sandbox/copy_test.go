// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestCopyTreeCopiesRegularFiles(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "setup.py"), "from setuptools import setup\nsetup(name='pkg')\n", 0o644)
	if err := os.MkdirAll(filepath.Join(src, "pkg", "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(src, "pkg", "sub", "mod.py"), "x = 1\n", 0o644)

	dst := t.TempDir()
	if err := CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "pkg", "sub", "mod.py"))
	if err != nil {
		t.Fatalf("reading copied file: %v", err)
	}
	if string(got) != "x = 1\n" {
		t.Errorf("copied content = %q, want %q", got, "x = 1\n")
	}
}

func TestCopyTreeForcesOwnerAccess(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}

	src := t.TempDir()
	// Read-only entries are common in sdists; the copy must still be
	// writable and traversable by the owner.
	writeFile(t, filepath.Join(src, "README"), "hi\n", 0o444)
	if err := os.Mkdir(filepath.Join(src, "data"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(src, "data", "blob"), "b\n", 0o400)

	dst := t.TempDir()
	if err := CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	tests := []struct {
		path string
		want os.FileMode
	}{
		{"README", 0o600},
		{filepath.Join("data", "blob"), 0o600},
	}
	for _, tt := range tests {
		info, err := os.Stat(filepath.Join(dst, tt.path))
		if err != nil {
			t.Fatalf("stat %s: %v", tt.path, err)
		}
		if info.Mode().Perm()&tt.want != tt.want {
			t.Errorf("%s mode = %v, want owner bits %v set", tt.path, info.Mode().Perm(), tt.want)
		}
	}
}

func TestCopyTreeSkipsSymlinks(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privileges on windows")
	}

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "real.py"), "pass\n", 0o644)
	if err := os.Symlink("/etc/passwd", filepath.Join(src, "escape")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	dst := t.TempDir()
	if err := CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	if _, err := os.Lstat(filepath.Join(dst, "escape")); !os.IsNotExist(err) {
		t.Errorf("symlink was copied, want it skipped (err = %v)", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "real.py")); err != nil {
		t.Errorf("regular file missing from copy: %v", err)
	}
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
}
