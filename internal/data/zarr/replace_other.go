//go:build !linux

package zarr

func replaceDir(src, dst string) error {
	return swapDir(src, dst)
}
