// Package archive packs containers into compressed portable archives and
// restores them.
//
// A file container archives as a single entry; a badger container archives
// as its whole directory tree. The archive format is a zstd-compressed tar
// stream, so archives travel well over object storage and restore on any
// platform.
//
// The container must be closed before packing: archiving a container that
// another process holds open would capture a torn snapshot.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Pack writes the container at path as a zstd-compressed tar stream to w.
//
// Entry names inside the archive are relative to the container: a file
// container produces one entry named after its base name; a badger
// directory produces one entry per file, rooted at the directory's base
// name.
//
// Context Cancellation:
// The walk checks the context between entries, so large directory
// containers abort promptly.
func Pack(ctx context.Context, path string, w io.Writer) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat container: %w", err)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	base := filepath.Base(path)
	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			rel, relErr := filepath.Rel(path, p)
			if relErr != nil {
				return relErr
			}
			if rel == "." {
				return nil
			}
			return addEntry(tw, p, filepath.ToSlash(filepath.Join(base, rel)), d.IsDir())
		})
	} else {
		err = addEntry(tw, path, base, false)
	}
	if err != nil {
		return fmt.Errorf("failed to pack container: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize zstd stream: %w", err)
	}
	return nil
}

// addEntry writes one file or directory entry into the tar stream.
func addEntry(tw *tar.Writer, path, name string, isDir bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if isDir {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if isDir {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// Unpack restores an archive produced by Pack into destDir. The archive's
// top-level entry (the container file or badger directory) is created
// inside destDir under its archived name, and that path is returned.
//
// Entry names are validated against path traversal before anything is
// written.
func Unpack(ctx context.Context, r io.Reader, destDir string) (string, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to open zstd stream: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var rootName string

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read archive entry: %w", err)
		}

		name := filepath.Clean(filepath.FromSlash(hdr.Name))
		if name == "." || strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return "", fmt.Errorf("archive entry %q escapes the destination", hdr.Name)
		}
		if rootName == "" {
			rootName = topLevel(name)
		}

		target := filepath.Join(destDir, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}
			if err := writeEntry(target, tr, hdr.FileInfo().Mode()); err != nil {
				return "", err
			}
		default:
			return "", fmt.Errorf("unsupported archive entry type for %q", hdr.Name)
		}
	}

	if rootName == "" {
		return "", fmt.Errorf("archive is empty")
	}
	return filepath.Join(destDir, rootName), nil
}

func writeEntry(target string, r io.Reader, mode fs.FileMode) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return f.Close()
}

func topLevel(name string) string {
	if i := strings.IndexByte(name, filepath.Separator); i >= 0 {
		return name[:i]
	}
	return name
}
