package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MoveFile relocates src to dst. A rename is tried first; when that fails
// (typically because src and dst are on different filesystems) the file is
// copied with verification and src is removed. dst must not exist.
func MoveFile(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s: destination %s: %w", src, dst, os.ErrExist)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if err := CopyFileVerified(src, dst, info.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// LinkFile makes dst refer to the contents of src without copying: a hard
// link when possible, otherwise a symbolic link to the absolute source path.
func LinkFile(src, dst string) error {
	linkErr := os.Link(src, dst)
	if linkErr == nil {
		return nil
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	if err := os.Symlink(abs, dst); err != nil {
		return errors.Join(linkErr, err)
	}
	return nil
}

// CopyFileVerified copies src to dst and then re-reads dst to confirm its
// size and SHA-256 digest match the source. dst is created exclusively and
// removed on any failure.
func CopyFileVerified(src, dst string, mode os.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	want := sha256.New()
	copied, err := io.Copy(out, io.TeeReader(in, want))
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}

	size, sum, err := digest(dst)
	if err != nil {
		return err
	}
	if size != copied {
		return fmt.Errorf("copy size mismatch: copied %d bytes, destination has %d", copied, size)
	}
	if !bytes.Equal(sum, want.Sum(nil)) {
		return errors.New("copy hash mismatch: destination differs from source")
	}
	return nil
}

func digest(path string) (int64, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, nil, fmt.Errorf("read back %s: %w", path, err)
	}
	return n, h.Sum(nil), nil
}

// DirSize sums the sizes of regular files below dir.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
