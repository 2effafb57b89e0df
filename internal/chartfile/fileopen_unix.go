//go:build !windows

package chartfile

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/kaia/internal/errors"
)

// openNoFollow opens path read-only with O_NOFOLLOW so a symlink swapped in
// for the final component after validation is refused.
func openNoFollow(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, 0)
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("cannot read chart from symlink")
		}
		if stderrors.Is(err, syscall.ENOENT) {
			return nil, errors.NewNotFound(path)
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}
