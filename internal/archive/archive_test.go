// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

type tarEntry struct {
	name     string
	body     string
	mode     int64
	typeflag byte
	linkname string
}

func writeTarGz(t *testing.T, path string, entries []tarEntry) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     e.mode,
			Size:     int64(len(e.body)),
			Typeflag: typeflag,
			Linkname: e.linkname,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExtractTarGzCollapsesSingleRoot(t *testing.T) {
	t.Parallel()

	archive := filepath.Join(t.TempDir(), "pkg-1.0.tar.gz")
	writeTarGz(t, archive, []tarEntry{
		{name: "pkg-1.0/", typeflag: tar.TypeDir, mode: 0o755},
		{name: "pkg-1.0/setup.py", body: "setup()\n", mode: 0o644},
		{name: "pkg-1.0/pkg/__init__.py", body: "", mode: 0o644},
	})

	dest := t.TempDir()
	root, err := Extract(archive, dest)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if filepath.Base(root) != "pkg-1.0" {
		t.Errorf("root = %q, want the collapsed pkg-1.0 directory", root)
	}
	got, err := os.ReadFile(filepath.Join(root, "setup.py"))
	if err != nil {
		t.Fatalf("setup.py missing: %v", err)
	}
	if string(got) != "setup()\n" {
		t.Errorf("setup.py = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "pkg", "__init__.py")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
}

func TestExtractTgzSuffix(t *testing.T) {
	t.Parallel()

	archive := filepath.Join(t.TempDir(), "pkg.tgz")
	writeTarGz(t, archive, []tarEntry{
		{name: "setup.py", body: "setup()\n", mode: 0o644},
	})

	root, err := Extract(archive, t.TempDir())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "setup.py")); err != nil {
		t.Errorf("setup.py missing: %v", err)
	}
}

func TestExtractTarBz2(t *testing.T) {
	t.Parallel()

	root, err := Extract(filepath.Join("testdata", "demo-1.0.tar.bz2"), t.TempDir())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if filepath.Base(root) != "demo-1.0" {
		t.Errorf("root = %q, want demo-1.0", root)
	}
	got, err := os.ReadFile(filepath.Join(root, "setup.py"))
	if err != nil {
		t.Fatalf("setup.py missing: %v", err)
	}
	if !bytes.Contains(got, []byte(`setup(name="demo")`)) {
		t.Errorf("setup.py = %q", got)
	}
}

func TestExtractZipFamily(t *testing.T) {
	t.Parallel()

	for _, ext := range []string{".zip", ".whl", ".egg"} {
		t.Run(ext, func(t *testing.T) {
			t.Parallel()

			archive := filepath.Join(t.TempDir(), "pkg"+ext)
			writeZip(t, archive, map[string]string{
				"pkg/metadata.txt": "Name: pkg\n",
			})

			root, err := Extract(archive, t.TempDir())
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if _, err := os.Stat(filepath.Join(root, "metadata.txt")); err != nil {
				t.Errorf("metadata.txt missing under collapsed root: %v", err)
			}
		})
	}
}

func TestExtractMultiRootIsNotCollapsed(t *testing.T) {
	t.Parallel()

	archive := filepath.Join(t.TempDir(), "flat.zip")
	writeZip(t, archive, map[string]string{
		"setup.py": "setup()\n",
		"README":   "hi\n",
	})

	dest := t.TempDir()
	root, err := Extract(archive, dest)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if root != dest {
		t.Errorf("root = %q, want dest %q for a flat archive", root, dest)
	}
}

func TestExtractForcesOwnerAccess(t *testing.T) {
	t.Parallel()

	archive := filepath.Join(t.TempDir(), "ro.tar.gz")
	writeTarGz(t, archive, []tarEntry{
		{name: "readonly.txt", body: "locked\n", mode: 0o444},
	})

	root, err := Extract(archive, t.TempDir())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	info, err := os.Stat(filepath.Join(root, "readonly.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o600 != 0o600 {
		t.Errorf("mode = %v, want owner rw set", info.Mode().Perm())
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry string
	}{
		{"dotdot", "../escape.py"},
		{"nested dotdot", "pkg/../../escape.py"},
		{"absolute", "/etc/escape.py"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			archive := filepath.Join(t.TempDir(), "evil.tar.gz")
			writeTarGz(t, archive, []tarEntry{
				{name: tt.entry, body: "boom\n", mode: 0o644},
			})

			if _, err := Extract(archive, t.TempDir()); !errors.Is(err, ErrUnsafePath) {
				t.Errorf("Extract() error = %v, want ErrUnsafePath", err)
			}
		})
	}
}

func TestExtractDropsSymlinks(t *testing.T) {
	t.Parallel()

	archive := filepath.Join(t.TempDir(), "links.tar.gz")
	writeTarGz(t, archive, []tarEntry{
		{name: "setup.py", body: "setup()\n", mode: 0o644},
		{name: "passwd", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"},
	})

	root, err := Extract(archive, t.TempDir())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, err := os.Lstat(filepath.Join(root, "passwd")); !os.IsNotExist(err) {
		t.Errorf("symlink extracted, want dropped (err = %v)", err)
	}
}

func TestExtractUnknownFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pkg.rar")
	if err := os.WriteFile(path, []byte("not an archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Extract(path, t.TempDir())
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Extract() error = %v, want ErrUnsupportedFormat", err)
	}
	var formatErr *UnsupportedFormatError
	if !errors.As(err, &formatErr) || formatErr.Name != "pkg.rar" {
		t.Errorf("Extract() error = %v, want UnsupportedFormatError for pkg.rar", err)
	}
}

func TestStripSuffix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{"demo-1.0.tar.gz", "demo-1.0"},
		{"demo-1.0.tgz", "demo-1.0"},
		{"demo-1.0.tar.bz2", "demo-1.0"},
		{"demo-1.0.tar", "demo-1.0"},
		{"demo-1.0.zip", "demo-1.0"},
		{"demo-1.0-py3-none-any.whl", "demo-1.0-py3-none-any"},
		{"demo-1.0", "demo-1.0"},
	}
	for _, tt := range tests {
		if got := StripSuffix(tt.name); got != tt.want {
			t.Errorf("StripSuffix(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
