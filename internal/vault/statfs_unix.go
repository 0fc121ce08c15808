//go:build unix

package vault

import "golang.org/x/sys/unix"

func diskTotal(path string) (int64, error) {
	var stats unix.Statfs_t
	if err := unix.Statfs(path, &stats); err != nil {
		return 0, err
	}
	return int64(stats.Blocks) * int64(stats.Bsize), nil
}
