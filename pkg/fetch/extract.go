package fetch

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	xzMagic    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	bzip2Magic = []byte("BZh")
)

// decompress sniffs the compression format of r and returns a reader for the plain tar stream.
func decompress(r io.Reader) (io.ReadCloser, error) {
	buffered := bufio.NewReader(r)
	head, err := buffered.Peek(len(xzMagic))
	if err != nil && len(head) == 0 {
		if err == io.EOF {
			return nil, eris.New("archive is empty")
		}
		return nil, eris.Wrap(err, "failed to read archive header")
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		reader, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, eris.Wrap(err, "failed to open gzip stream")
		}
		return reader, nil
	case bytes.HasPrefix(head, xzMagic):
		reader, err := xz.NewReader(buffered)
		if err != nil {
			return nil, eris.Wrap(err, "failed to open xz stream")
		}
		return io.NopCloser(reader), nil
	case bytes.HasPrefix(head, bzip2Magic):
		return io.NopCloser(bzip2.NewReader(buffered)), nil
	}

	return nil, eris.New("archive format not supported")
}

// extractTar unpacks the tar stream r below destPath.
func extractTar(r io.Reader, destPath string) error {
	archive := tar.NewReader(r)
	entries := 0

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "failed to read archive entry")
		}

		dest, err := entryPath(destPath, item.Name)
		if err != nil {
			return err
		}

		err = checkNoSymlinks(destPath, dest)
		if err != nil {
			return err
		}

		switch item.Typeflag {
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			continue
		case tar.TypeDir:
			err = os.MkdirAll(dest, 0o770)
			if err != nil {
				return eris.Wrapf(err, "failed to create directory %s", dest)
			}
		case tar.TypeSymlink:
			err = checkLinkTarget(destPath, dest, item.Linkname)
			if err != nil {
				return err
			}

			err = makeParent(dest)
			if err != nil {
				return err
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
		case tar.TypeReg:
			err = writeEntry(archive, dest, item.FileInfo().Mode())
			if err != nil {
				return err
			}
		default:
			// devices, fifos and hard links have no place in a source package
			continue
		}
		entries++
	}

	if entries == 0 {
		return eris.New("archive contains no entries")
	}
	return nil
}

// entryPath maps an archive entry name below destPath and rejects names escaping it.
func entryPath(destPath, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", eris.Errorf("archive entry %s points outside of the archive", name)
	}

	return filepath.Join(destPath, clean), nil
}

// checkLinkTarget rejects symlinks that are absolute or resolve outside of destPath.
func checkLinkTarget(destPath, dest, target string) error {
	target = filepath.FromSlash(target)
	if filepath.IsAbs(target) {
		return eris.Errorf("symlink %s points to absolute path %s", dest, target)
	}

	rel, err := filepath.Rel(destPath, filepath.Join(filepath.Dir(dest), target))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return eris.Errorf("symlink %s points outside of the archive: %s", dest, target)
	}
	return nil
}

// checkNoSymlinks refuses entries that would be created through (or on top of) a symlink
// extracted earlier.
func checkNoSymlinks(destPath, dest string) error {
	rel, err := filepath.Rel(destPath, dest)
	if err != nil {
		return eris.Wrapf(err, "failed to resolve %s", dest)
	}

	current := destPath
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." || part == "" {
			continue
		}
		current = filepath.Join(current, part)

		info, err := os.Lstat(current)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return nil
			}
			return eris.Wrapf(err, "failed to check %s", current)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return eris.Errorf("archive entry %s would be written through symlink %s", dest, current)
		}
	}
	return nil
}

func makeParent(dest string) error {
	parent := filepath.Dir(dest)
	err := os.MkdirAll(parent, 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create directory %s", parent)
	}
	return nil
}

func writeEntry(r io.Reader, dest string, mode os.FileMode) error {
	err := makeParent(dest)
	if err != nil {
		return err
	}

	destHandle, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm()|0o600)
	if err != nil {
		return eris.Wrapf(err, "failed to create file %s", dest)
	}
	defer destHandle.Close()

	_, err = io.Copy(destHandle, r)
	if err != nil {
		return eris.Wrapf(err, "failed to write extracted file %s", dest)
	}

	return destHandle.Close()
}
