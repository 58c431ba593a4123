//go:build linux

package zarr

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// replaceDir installs the group at src as dst. An existing dst is exchanged
// atomically, so readers see either the old or the new group; the old one is
// left at src for the caller to remove.
func replaceDir(src, dst string) error {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_EXCHANGE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ENOENT):
		return os.Rename(src, dst)
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOSYS):
		// filesystem without exchange support
		return swapDir(src, dst)
	}
	return err
}
