package store

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	lzip "github.com/sorairolake/lzip-go"
	"github.com/ulikunitz/xz"
)

// Format identifies the archive container + compression of a bottle
// tarball being inserted into the store.
type Format int

const (
	FormatTarGz Format = iota
	FormatTarXz
	FormatTarBz2
	FormatTarZst
	FormatTarLz
	FormatTar
	FormatZip
)

// DetectFormat infers a Format from a file name, defaulting to tar.gz
// (the overwhelming majority of Homebrew bottles).
func DetectFormat(name string) Format {
	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(name, ".tar.xz"):
		return FormatTarXz
	case strings.HasSuffix(name, ".tar.bz2"):
		return FormatTarBz2
	case strings.HasSuffix(name, ".tar.zst"):
		return FormatTarZst
	case strings.HasSuffix(name, ".tar.lz"):
		return FormatTarLz
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	case strings.HasSuffix(name, ".tar"):
		return FormatTar
	default:
		return FormatTarGz
	}
}

// extractInto streams r (an archive in the given format) into destDir,
// which must already exist. Every extracted path is verified to stay
// within destDir and symlink targets are validated before creation, so a
// malicious bottle cannot escape the store entry via path traversal.
func extractInto(r io.Reader, format Format, destDir string) error {
	if format == FormatZip {
		return extractZip(r, destDir)
	}

	tr, cleanup, err := tarReaderFor(r, format)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	return extractTar(tr, destDir)
}

func tarReaderFor(r io.Reader, format Format) (*tar.Reader, func(), error) {
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return tar.NewReader(gz), func() { gz.Close() }, nil
	case FormatTarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return tar.NewReader(xr), nil, nil
	case FormatTarBz2:
		return tar.NewReader(bzip2.NewReader(r)), nil, nil
	case FormatTarZst:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return tar.NewReader(zr), zr.Close, nil
	case FormatTarLz:
		lr, err := lzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening lzip stream: %w", err)
		}
		return tar.NewReader(lr), nil, nil
	case FormatTar:
		return tar.NewReader(r), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported format %d", format)
	}
}

func extractTar(tr *tar.Reader, destDir string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			if err := writeRegularFile(target, tr, os.FileMode(hdr.Mode&0o777)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			if err := createSymlinkSafely(destDir, target, hdr.Linkname); err != nil {
				return err
			}
		default:
			// skip device nodes, fifos, hardlinks-as-links, etc.
		}
	}
}

func extractZip(r io.Reader, destDir string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("buffering zip stream: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("opening zip archive: %w", err)
	}

	for _, f := range zr.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent of %s: %w", target, err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry %s: %w", f.Name, err)
		}
		err = writeRegularFile(target, rc, f.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeRegularFile(path string, r io.Reader, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	_, err = io.Copy(out, r)
	closeErr := out.Close()
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", path, closeErr)
	}
	return nil
}

// safeJoin resolves name against destDir and rejects any result that
// would escape destDir (absolute paths, "..", or separator-boundary
// prefix collisions like destDir="/tmp/foo" matching "/tmp/foobar").
func safeJoin(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(destDir, name))
	if !isWithinDirectory(destDir, cleaned) {
		return "", fmt.Errorf("archive entry %q escapes destination directory", name)
	}
	return cleaned, nil
}

func isWithinDirectory(dir, target string) bool {
	dir = filepath.Clean(dir)
	target = filepath.Clean(target)
	if target == dir {
		return true
	}
	return strings.HasPrefix(target, dir+string(filepath.Separator))
}

// createSymlinkSafely recreates a symlink verbatim, but refuses a target
// that would resolve outside destDir, and creates the link atomically via
// a temp-name-then-rename so a crash mid-extraction can't leave a
// half-written symlink.
func createSymlinkSafely(destDir, linkPath, linkTarget string) error {
	if filepath.IsAbs(linkTarget) {
		return fmt.Errorf("symlink %s has absolute target %q", linkPath, linkTarget)
	}

	resolved := filepath.Clean(filepath.Join(filepath.Dir(linkPath), linkTarget))
	if !isWithinDirectory(destDir, resolved) {
		return fmt.Errorf("symlink %s target %q escapes destination directory", linkPath, linkTarget)
	}

	tmp := linkPath + ".zb-symlink-tmp"
	os.Remove(tmp)
	if err := os.Symlink(linkTarget, tmp); err != nil {
		return fmt.Errorf("creating symlink %s: %w", linkPath, err)
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming symlink into place %s: %w", linkPath, err)
	}
	return nil
}
