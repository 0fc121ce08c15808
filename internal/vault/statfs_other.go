//go:build !unix

package vault

import "github.com/pkg/errors"

func diskTotal(path string) (int64, error) {
	return 0, errors.Errorf("filesystem capacity of %s is unknown on this platform; set capacity_bytes", path)
}
