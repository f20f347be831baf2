package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxEntrySize caps the decompressed size of a single archive entry.
// Writes that would reach the cap fail the extraction.
const maxEntrySize = 1 << 30

const dirMode = 0750

// Pack writes srcDir's contents into a tar.gz at destPath. Directory
// entries precede their files so Unpack can create parents eagerly.
func Pack(srcDir, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		// Symlinks are skipped rather than packed: the consumer side has
		// no safe way to honor them
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", srcDir, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return out.Sync()
}

// Unpack extracts a tar.gz into destDir. Every entry's normalized path must
// lie strictly under destDir, and each entry may decompress to at most 1
// GiB; violating either fails the extraction before the offending write.
func Unpack(srcPath, destDir string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	defer gz.Close()

	cleanDest := filepath.Clean(destDir)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}

		target, err := secureJoin(cleanDest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}
			if err := writeCapped(target, tr, hdr); err != nil {
				return err
			}
		default:
			// Links, devices and the rest have no business in a dataset
			// archive
			return fmt.Errorf("refusing archive entry %q of type %d", hdr.Name, hdr.Typeflag)
		}
	}
}

// secureJoin resolves an entry name under dest and rejects anything that
// would normalize outside it
func secureJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

func writeCapped(target string, r io.Reader, hdr *tar.Header) error {
	if hdr.Size >= maxEntrySize {
		return fmt.Errorf("archive entry %q exceeds size cap", hdr.Name)
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0755)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	// The header size can lie; the limit on the actual stream is what
	// enforces the cap
	n, err := io.Copy(f, io.LimitReader(r, maxEntrySize))
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", hdr.Name, err)
	}
	if n >= maxEntrySize {
		return fmt.Errorf("archive entry %q exceeds size cap", hdr.Name)
	}
	return f.Sync()
}
