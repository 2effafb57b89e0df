//go:build windows

package chartfile

import (
	"os"

	"github.com/hpungsan/kaia/internal/errors"
)

// openNoFollow opens path read-only. O_NOFOLLOW is unavailable on Windows;
// ValidatePath has already rejected symlinks.
func openNoFollow(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(path)
		}
		return nil, err
	}
	return f, nil
}
